package query

import (
	"context"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

func TestGetInstallationMessage_ValidateReturnsRichError(t *testing.T) {
	err := (GetInstallationMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ErrorBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
}

func TestResolveAuthHeaderQuery_NilReaderReturnsRichError(t *testing.T) {
	var qry *ResolveAuthHeaderQuery
	_, err := qry.Query(context.Background(), ResolveAuthHeaderMessage{InstallationID: "inst_1"})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal || rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected internal dependency error, got %q %d", rich.Category, rich.Code)
	}
}
