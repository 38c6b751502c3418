package main

import (
	"errors"
	"testing"
	"time"
)

func TestWriteErrorsAreDrained(t *testing.T) {
	cfg := testConfig(t)

	errs := make(chan error, 64)
	go drainErrors(cfg, errs)

	// Far more failures than the buffer holds; handlers reporting them
	// must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			errs <- errors.New("client went away")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("error channel backed up")
	}
}
