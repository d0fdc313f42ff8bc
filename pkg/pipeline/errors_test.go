package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	plain := Errorf(CodeDomainTaken, "domain %s already in use", "acme.xcord.io")
	want := "DOMAIN_TAKEN: domain acme.xcord.io already in use"
	if plain.Error() != want {
		t.Errorf("Error() = %q, want %q", plain.Error(), want)
	}

	cause := errors.New("dial tcp 10.0.0.5:2375: connection refused")
	wrapped := Wrap(CodeNetworkCreationFailed, cause, "creating network")
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error should match its cause with errors.Is")
	}
	if wrapped.Error() != "NETWORK_CREATION_FAILED: creating network: dial tcp 10.0.0.5:2375: connection refused" {
		t.Errorf("unexpected wrapped format: %q", wrapped.Error())
	}
}

func TestFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"validation", Errorf(CodeValidationFailed, "bad subdomain"), true},
		{"domain taken", Errorf(CodeDomainTaken, "taken"), true},
		{"tier limit", Errorf(CodeTierLimitExceeded, "over cap"), true},
		{"worker ids exhausted", Errorf(CodeNoWorkerIDs, "registry full"), true},
		{"instance missing", Errorf(CodeInstanceNotFound, "gone"), true},
		{"infra missing", Errorf(CodeInfrastructureNotFound, "no row"), true},
		{"secrets missing", Errorf(CodeSecretsMissing, "no row"), true},
		{"secrets incomplete", Errorf(CodeSecretsIncomplete, "empty db password"), true},
		{"network creation", Errorf(CodeNetworkCreationFailed, "engine 500"), false},
		{"container start", Errorf(CodeContainerStartFailed, "image pull"), false},
		{"container not running", Errorf(CodeContainerNotRunning, "exited"), false},
		{"db provision", Errorf(CodeDBProvisionFailed, "create database"), false},
		{"step exception", Errorf(CodeStepException, "panic: nil deref"), false},
		{"retries envelope", Wrap(CodeMaxRetriesExceeded, Errorf(CodeDNSProxyFailed, "throttled"), "exhausted"), false},
		{"fatal behind fmt wrap", fmt.Errorf("step context: %w", Errorf(CodeDomainTaken, "taken")), true},
		{"uncoded", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fatal(tt.err); got != tt.fatal {
				t.Errorf("Fatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestCode(t *testing.T) {
	if got := Code(Errorf(CodeDBNotFound, "missing")); got != CodeDBNotFound {
		t.Errorf("Code() = %q, want %q", got, CodeDBNotFound)
	}

	wrapped := fmt.Errorf("running verify: %w", Errorf(CodeDNSVerifyFailed, "no answer"))
	if got := Code(wrapped); got != CodeDNSVerifyFailed {
		t.Errorf("Code() through wrap = %q, want %q", got, CodeDNSVerifyFailed)
	}

	if got := Code(errors.New("plain")); got != "" {
		t.Errorf("Code() for uncoded error = %q, want empty", got)
	}
	if got := Code(nil); got != "" {
		t.Errorf("Code(nil) = %q, want empty", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeValidationFailed, http.StatusBadRequest},
		{CodeDomainTaken, http.StatusConflict},
		{CodeTierLimitExceeded, http.StatusForbidden},
		{CodeInstanceNotFound, http.StatusNotFound},
		{CodeInfrastructureNotFound, http.StatusNotFound},
		{CodeNoWorkerIDs, http.StatusServiceUnavailable},
		{CodeSecretsMissing, http.StatusInternalServerError},
		{CodeSecretsIncomplete, http.StatusInternalServerError},
		{CodeContainerStartFailed, http.StatusBadGateway},
		{CodeMaxRetriesExceeded, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			e := Errorf(tt.code, "x")
			if got := e.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}
