package runerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind_IsValid(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindSchemaValidation, true},
		{KindPlan, true},
		{KindNoAdapter, true},
		{KindBudgetExhausted, true},
		{KindMissingArtifact, true},
		{KindGateFailed, true},
		{KindAdapterTransient, true},
		{KindAdapterPermanent, true},
		{KindTimeout, true},
		{KindCancelled, true},
		{KindInternal, true},
		{Kind("SomethingElse"), false},
		{Kind(""), false},
	}

	for _, tt := range tests {
		name := string(tt.kind)
		if name == "" {
			name = "empty_kind"
		}
		t.Run(name, func(t *testing.T) {
			if got := tt.kind.IsValid(); got != tt.want {
				t.Errorf("Kind(%q).IsValid() = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestKind_Retryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindAdapterTransient, true},
		{KindTimeout, true},
		{KindAdapterPermanent, false},
		{KindGateFailed, false},
		{KindMissingArtifact, false},
		{KindInternal, false},
		{KindCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Retryable(); got != tt.want {
				t.Errorf("Kind(%q).Retryable() = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message_only", New(KindGateFailed, "diff_limits not satisfied"), "GateFailed: diff_limits not satisfied"},
		{"wrapped", Wrap(KindInternal, "catalogue artifact", errors.New("disk full")), "InternalError: catalogue artifact: disk full"},
		{"kind_only", &Error{Kind: KindCancelled}, "Cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindAdapterPermanent, "execute", cause)
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}

func TestError_ForStep(t *testing.T) {
	base := New(KindTimeout, "step exceeded 5s")
	attributed := base.ForStep("1.001")

	if attributed.StepID != "1.001" {
		t.Errorf("ForStep StepID = %q, want %q", attributed.StepID, "1.001")
	}
	if base.StepID != "" {
		t.Errorf("ForStep mutated the original: StepID = %q", base.StepID)
	}
	if attributed.Kind != KindTimeout {
		t.Errorf("ForStep Kind = %q, want %q", attributed.Kind, KindTimeout)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Kind("")},
		{"direct", New(KindPlan, "cycle"), KindPlan},
		{"wrapped_in_fmt", fmt.Errorf("outer: %w", New(KindBudgetExhausted, "over")), KindBudgetExhausted},
		{"plain_error", errors.New("untyped"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(KindAdapterTransient, "429")) {
		t.Error("transient adapter error should be retryable")
	}
	if IsRetryable(New(KindAdapterPermanent, "bad input")) {
		t.Error("permanent adapter error should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("untyped error should not be retryable")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSucceeded},
		{"schema", New(KindSchemaValidation, "bad doc"), ExitPlanning},
		{"plan", New(KindPlan, "cycle"), ExitPlanning},
		{"cancelled", New(KindCancelled, "signal"), ExitAborted},
		{"gate", New(KindGateFailed, "tests_pass"), ExitFailed},
		{"untyped", errors.New("x"), ExitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
