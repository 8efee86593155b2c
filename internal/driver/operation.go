// Copyright 2025 Joseph Cumines
//
// Long-running operation polling

package driver

import (
	"context"
	"fmt"
	"time"

	longrunningpb "cloud.google.com/go/longrunning/autogen/longrunningpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// defaultPollInterval is the interval between GetOperation calls.
const defaultPollInterval = 100 * time.Millisecond

// waitOperation polls op until it is done and returns its final state. A
// failed operation is returned as a gRPC status error carrying the operation's
// code and message.
func waitOperation(ctx context.Context, ops longrunningpb.OperationsClient, op *longrunningpb.Operation, interval time.Duration) (*longrunningpb.Operation, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	if !op.GetDone() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

	poll:
		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				next, err := ops.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: op.GetName()})
				if err != nil {
					return nil, fmt.Errorf("failed to get operation %s: %w", op.GetName(), err)
				}
				if next.GetDone() {
					op = next
					break poll
				}
			}
		}
	}

	if opErr := op.GetError(); opErr != nil {
		return op, status.Error(codes.Code(opErr.GetCode()), opErr.GetMessage())
	}
	return op, nil
}
