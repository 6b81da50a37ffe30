package config

import (
	"context"
	"testing"
)

func TestEnvVarProviderResolvesSetKeys(t *testing.T) {
	t.Setenv("TEST_SECRET_ONE", "value-one")
	t.Setenv("TEST_SECRET_TWO", "value-two")

	p := NewEnvVarProvider()
	result, err := p.GetParametersBatch(context.Background(),
		[]string{"TEST_SECRET_ONE", "TEST_SECRET_TWO", "TEST_SECRET_ABSENT"})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("len(result) = %d, want 2", len(result))
	}
	if result["TEST_SECRET_ONE"] != "value-one" {
		t.Errorf("TEST_SECRET_ONE = %q, want value-one", result["TEST_SECRET_ONE"])
	}
	if result["TEST_SECRET_TWO"] != "value-two" {
		t.Errorf("TEST_SECRET_TWO = %q, want value-two", result["TEST_SECRET_TWO"])
	}
	if _, ok := result["TEST_SECRET_ABSENT"]; ok {
		t.Error("absent key should be omitted from result")
	}
}

func TestEnvVarProviderEmptyKeys(t *testing.T) {
	p := NewEnvVarProvider()
	result, err := p.GetParametersBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("len(result) = %d, want 0", len(result))
	}
}
