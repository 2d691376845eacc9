package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/shineum/mailprobe-lite/internal/verifier"
)

type stubVerifier struct {
	got []string
	err error
}

func (s *stubVerifier) Verify(_ context.Context, addrs []string) (verifier.Results, error) {
	s.got = addrs
	results := make(verifier.Results, len(addrs))
	for _, a := range addrs {
		results[strings.TrimSpace(a)] = verifier.Valid
	}
	return results, s.err
}

func TestReadAddresses(t *testing.T) {
	t.Parallel()

	in := strings.NewReader("alice@example.com\n\n# comment\n  bob@example.com  \n")
	got, err := readAddresses(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"alice@example.com", "bob@example.com"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("readAddresses: got %v, want %v", got, want)
	}
}

func TestRunOnce_Args(t *testing.T) {
	t.Parallel()

	stub := &stubVerifier{}
	var out bytes.Buffer
	err := runOnce(context.Background(), stub, "json", []string{"a@example.com"}, strings.NewReader("ignored@example.com\n"), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stub.got) != 1 || stub.got[0] != "a@example.com" {
		t.Errorf("verified: got %v, want [a@example.com]", stub.got)
	}
	if !strings.Contains(out.String(), `"address": "a@example.com"`) {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestRunOnce_Stdin(t *testing.T) {
	t.Parallel()

	stub := &stubVerifier{}
	var out bytes.Buffer
	err := runOnce(context.Background(), stub, "text", nil, strings.NewReader("a@example.com\nb@example.com\n"), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stub.got) != 2 {
		t.Errorf("verified: got %v, want two addresses", stub.got)
	}
	if !strings.Contains(out.String(), "Summary: valid=2") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestRunOnce_InterruptedStillReports(t *testing.T) {
	t.Parallel()

	stub := &stubVerifier{err: context.Canceled}
	var out bytes.Buffer
	err := runOnce(context.Background(), stub, "text", []string{"a@example.com"}, nil, &out)
	if err == nil {
		t.Fatal("expected interruption error")
	}
	if !strings.Contains(out.String(), "a@example.com") {
		t.Error("report should be written before the error is returned")
	}
}

func TestRunOnce_UnknownFormat(t *testing.T) {
	t.Parallel()

	stub := &stubVerifier{}
	if err := runOnce(context.Background(), stub, "xml", []string{"a@example.com"}, nil, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if stub.got != nil {
		t.Error("nothing should be verified with an unknown format")
	}
}

func TestBuildTranscript(t *testing.T) {
	t.Parallel()

	if buildTranscript(false, false, &bytes.Buffer{}) != nil {
		t.Error("expected nil transcript when disabled")
	}

	var buf bytes.Buffer
	tr := buildTranscript(true, true, &buf)
	if tr == nil {
		t.Fatal("expected transcript")
	}
	tr("mx.example.com", true, "QUIT")
	if got := buf.String(); got != "mx.example.com > QUIT\n" {
		t.Errorf("transcript: got %q", got)
	}
}
