// Package main is the entrypoint for the OTP authentication service.
// It issues and verifies one-time codes for phone ownership proof.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aelexs/otp-auth/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:  "otpauth",
		Setup: setup,
	}, server.Listeners{})
}
