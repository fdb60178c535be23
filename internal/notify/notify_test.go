package notify

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestSendPostsTitleAndBody(t *testing.T) {
	ctx := context.Background()

	var receivedMethod, receivedBody, receivedTitle, receivedContentType string

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			receivedMethod = r.Method
			receivedTitle = r.Header.Get("Title")
			receivedContentType = r.Header.Get("Content-Type")
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("ok")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	if err := Send(ctx, client, "http://example.com/notifications", "sinktab", "failed to select USB Headset"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("method = %q", receivedMethod)
	}
	if receivedTitle != "sinktab" {
		t.Errorf("title header = %q", receivedTitle)
	}
	if receivedContentType != "text/plain" {
		t.Errorf("content-type = %q", receivedContentType)
	}
	if receivedBody != "failed to select USB Headset" {
		t.Errorf("body = %q", receivedBody)
	}
}

func TestSendReturnsErrorForServerError(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader("server failure")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	err := Send(context.Background(), client, "http://example.com/notifications", "", "msg")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ntfy notification failed") {
		t.Errorf("error = %q", err)
	}
}

func TestDisabledNotifierDropsSilently(t *testing.T) {
	n := NewNotifier("")
	if n.Enabled() {
		t.Error("notifier with no endpoint must be disabled")
	}
	// Must not panic or block.
	n.Notify("sinktab", "dropped")

	var nilNotifier *Notifier
	if nilNotifier.Enabled() {
		t.Error("nil notifier must report disabled")
	}
}
