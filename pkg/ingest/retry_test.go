// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetryer(maxRetries int) *Retryer {
	return NewRetryer(RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
}

func TestRetryerSucceedsAfterTransientFailure(t *testing.T) {
	r := fastRetryer(3)
	attempts := 0

	err := r.Do(context.Background(), "op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryerStopsOnNonRetryable(t *testing.T) {
	r := fastRetryer(3)
	attempts := 0

	err := r.Do(context.Background(), "op", func() error {
		attempts++
		return errors.New("syntax error in document")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("non-retryable error should not be retried, got %d attempts", attempts)
	}
}

func TestRetryerExhaustion(t *testing.T) {
	r := fastRetryer(2)
	attempts := 0

	err := r.Do(context.Background(), "op", func() error {
		attempts++
		return fmt.Errorf("rate limit exceeded")
	})
	if !IsRetryExhausted(err) {
		t.Fatalf("expected exhausted retry error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts (initial + 2 retries), got %d", attempts)
	}
}

func TestRetryerRespectsContext(t *testing.T) {
	r := fastRetryer(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, "op", func() error {
		return errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetryErrorUnwrap(t *testing.T) {
	inner := errors.New("503 service unavailable")
	retryErr := &RetryError{Operation: "op", Attempts: 4, LastError: inner, IsExhausted: true}
	if !errors.Is(retryErr, inner) {
		t.Error("RetryError should unwrap to the last error")
	}
}
