package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
)

func TestClassify_Nil(t *testing.T) {
	if err := Classify(nil, "sample", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestClassify_NoRows(t *testing.T) {
	err := Classify(fmt.Errorf("scan: %w", pgx.ErrNoRows), "sample", nil)
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClassify_UniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "samples_barcode_key"}
	err := Classify(pgErr, "sample", ConstraintFields{"samples_barcode_key": "barcode"})

	var ae *apperror.Error
	if !errors.As(err, &ae) || ae.Kind != apperror.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if ae.Message != "sample with this barcode already exists" {
		t.Errorf("unexpected message: %s", ae.Message)
	}
}

func TestClassify_ForeignKeyViolation(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:   CodeForeignKeyViolation,
		Detail: `Key (test_type_id)=(7c1f) is not present in table "test_types".`,
	}
	err := Classify(pgErr, "test request", nil)

	var ae *apperror.Error
	if !errors.As(err, &ae) || ae.Kind != apperror.KindValidation {
		t.Fatalf("expected validation, got %v", err)
	}
	if ae.Fields[0].Field != "test_type_id" {
		t.Errorf("expected field test_type_id, got %s", ae.Fields[0].Field)
	}
}

func TestClassify_PassesThroughAppErrors(t *testing.T) {
	orig := apperror.Conflict("stale version")
	if got := Classify(orig, "sample", nil); got != orig {
		t.Errorf("expected original error to pass through, got %v", got)
	}
}

func TestClassify_UnknownIsInternal(t *testing.T) {
	err := Classify(errors.New("conn reset"), "sample", nil)
	if !apperror.Is(err, apperror.KindInternal) {
		t.Fatalf("expected internal, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: CodeUniqueViolation})) {
		t.Error("expected wrapped unique violation to be detected")
	}
	if IsUniqueViolation(errors.New("other")) {
		t.Error("expected plain error not to be a unique violation")
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestPassThroughTx(t *testing.T) {
	called := false
	err := PassThroughTx{}.InTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run without error, called=%v err=%v", called, err)
	}
}
