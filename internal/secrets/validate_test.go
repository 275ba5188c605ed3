package secrets

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateEnv(t *testing.T) {
	t.Setenv("FORCEFIELD_TEST_SET", "value")
	t.Setenv("FORCEFIELD_TEST_BLANK", "   ")

	t.Run("all present", func(t *testing.T) {
		if err := ValidateEnv("FORCEFIELD_TEST_SET"); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("no names", func(t *testing.T) {
		if err := ValidateEnv(); err != nil {
			t.Errorf("expected nil for empty check, got %v", err)
		}
	})

	t.Run("blank value", func(t *testing.T) {
		err := ValidateEnv("FORCEFIELD_TEST_SET", "FORCEFIELD_TEST_BLANK")
		if err == nil {
			t.Fatal("expected error for blank variable")
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %T", err)
		}
		if len(verr.Blank) != 1 || verr.Blank[0] != "FORCEFIELD_TEST_BLANK" {
			t.Errorf("expected FORCEFIELD_TEST_BLANK in blanks, got %+v", verr)
		}
		if len(verr.Missing) != 0 {
			t.Errorf("expected no missing names, got %+v", verr.Missing)
		}
	})

	t.Run("unset value", func(t *testing.T) {
		err := ValidateEnv("FORCEFIELD_TEST_UNSET")
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if len(verr.Missing) != 1 || verr.Missing[0] != "FORCEFIELD_TEST_UNSET" {
			t.Errorf("expected FORCEFIELD_TEST_UNSET in missing, got %+v", verr)
		}
	})

	t.Run("mixed report", func(t *testing.T) {
		err := ValidateEnv("FORCEFIELD_TEST_UNSET", "FORCEFIELD_TEST_BLANK")
		if err == nil {
			t.Fatal("expected error")
		}
		msg := err.Error()
		for _, want := range []string{"unset", "FORCEFIELD_TEST_UNSET", "blank", "FORCEFIELD_TEST_BLANK"} {
			if !strings.Contains(msg, want) {
				t.Errorf("error %q should mention %q", msg, want)
			}
		}
	})
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Missing: []string{"DATABASE_URL"},
		Blank:   []string{"ADMIN_API_TOKEN"},
	}
	msg := err.Error()
	if !strings.Contains(msg, "DATABASE_URL") || !strings.Contains(msg, "ADMIN_API_TOKEN") {
		t.Errorf("error message should name both variables, got %q", msg)
	}
	if !strings.Contains(msg, "; ") {
		t.Errorf("expected both sections joined, got %q", msg)
	}
}
