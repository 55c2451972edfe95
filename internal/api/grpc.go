package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"rltrader/internal/progress"
	"rltrader/internal/util"
)

const progressWatchMethod = "/rltrader.v1.Progress/Watch"

// ProgressServer streams training progress snapshots.
type ProgressServer interface {
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

var progressServiceDesc = grpc.ServiceDesc{
	ServiceName: "rltrader.v1.Progress",
	HandlerType: (*ProgressServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "rltrader/v1/progress.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ProgressServer).Watch(in, stream)
}

// RegisterProgressServer registers srv on s.
func RegisterProgressServer(s grpc.ServiceRegistrar, srv ProgressServer) {
	s.RegisterService(&progressServiceDesc, srv)
}

// ProgressService is the gRPC face of a progress.Sink. Each Watch call
// receives the current snapshot, then every change, and ends after the
// terminal snapshot.
type ProgressService struct {
	sink     progress.Sink
	interval time.Duration
	log      *slog.Logger
}

// NewProgressService creates a ProgressService polling sink every interval.
func NewProgressService(sink progress.Sink, interval time.Duration, log *slog.Logger) *ProgressService {
	return &ProgressService{sink: sink, interval: interval, log: util.OrDiscard(log)}
}

// Watch implements ProgressServer.
func (p *ProgressService) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	for snap := range progress.Watch(stream.Context(), p.sink, p.interval) {
		msg, err := snapshotStruct(snap)
		if err != nil {
			return err
		}
		if err := stream.SendMsg(msg); err != nil {
			p.log.Debug("progress stream closed", "err", err)
			return err
		}
		if snap.Done() {
			return nil
		}
	}
	return stream.Context().Err()
}

func snapshotStruct(s progress.Snapshot) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"fraction":    float64(s.Fraction),
		"eta_seconds": s.ETASeconds,
	})
}

func structSnapshot(m *structpb.Struct) progress.Snapshot {
	f := m.GetFields()
	return progress.Snapshot{
		Fraction:   int(f["fraction"].GetNumberValue()),
		ETASeconds: f["eta_seconds"].GetNumberValue(),
	}
}

// WatchProgress calls fn for every snapshot streamed by the Progress
// service on cc until the stream ends or fn returns false.
func WatchProgress(ctx context.Context, cc grpc.ClientConnInterface, fn func(progress.Snapshot) bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := cc.NewStream(ctx, &progressServiceDesc.Streams[0], progressWatchMethod)
	if err != nil {
		return fmt.Errorf("opening progress stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("sending watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receiving progress: %w", err)
		}
		if !fn(structSnapshot(msg)) {
			return nil
		}
	}
}
