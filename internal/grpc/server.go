package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Billy-Davies-2/ladder-bot/internal/command"
	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
	"github.com/Billy-Davies-2/ladder-bot/internal/pubsub"
)

// Server implements ladder.v1.LadderService. Chat transports call Execute
// with the caller's identity and admin capability already resolved
type Server struct {
	dispatcher *command.Dispatcher
	events     pubsub.Broker
}

// NewServer creates a new gRPC server
func NewServer(d *command.Dispatcher, events pubsub.Broker) *Server {
	return &Server{dispatcher: d, events: events}
}

// NewGRPCServer builds a grpc.Server with the ladder and health services
// registered
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(logUnary))
	gs := grpc.NewServer(opts...)
	RegisterLadderServiceServer(gs, srv)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logger.Debug("gRPC call", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	return resp, err
}

func valueString(v *structpb.Value) string {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return ""
	}
}

// toStruct converts any JSON-encodable value into a Struct
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// Execute runs one command. Request fields: channel, mode, command, caller,
// admin, params (string values)
func (s *Server) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()

	channel := strings.TrimSpace(f["channel"].GetStringValue())
	name := f["command"].GetStringValue()
	if channel == "" && name != "help" {
		return nil, apperrors.GRPCStatus(apperrors.New(apperrors.KindInvalidValue, "channel is required"))
	}
	mode, ok := models.ParseMode(f["mode"].GetStringValue())
	if !ok {
		return nil, apperrors.GRPCStatus(apperrors.New(apperrors.KindInvalidValue, "unknown tournament mode %q", f["mode"].GetStringValue()))
	}

	params := command.Params{}
	for k, v := range f["params"].GetStructValue().GetFields() {
		params[k] = valueString(v)
	}

	cmd, err := command.Parse(name, params)
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}

	resp, err := s.dispatcher.Dispatch(ctx, command.Request{
		Channel: channel,
		Mode:    mode,
		Caller:  f["caller"].GetStringValue(),
		Admin:   f["admin"].GetBoolValue(),
		Command: cmd,
	})
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}

	out, err := toStruct(resp)
	if err != nil {
		logger.Error("gRPC: Failed to encode response", "command", cmd.Name(), "error", err)
		return nil, apperrors.GRPCStatus(fmt.Errorf("encode response: %w", err))
	}
	return out, nil
}

// StreamEvents streams committed events; a "channel" field narrows the stream
func (s *Server) StreamEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	channel := req.GetFields()["channel"].GetStringValue()

	logger.Debug("gRPC: New client connected to event stream", "channel", channel)
	events := s.events.Subscribe()
	defer s.events.Unsubscribe(events)

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if channel != "" && !strings.HasPrefix(event.Tournament, channel+"/") {
				continue
			}
			msg, err := toStruct(event)
			if err != nil {
				logger.Warn("gRPC: Failed to encode event", "type", event.Type, "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				logger.Error("gRPC: Failed to send event to stream", "error", err)
				return err
			}
		case <-stream.Context().Done():
			logger.Debug("gRPC: Client disconnected from event stream")
			return nil
		}
	}
}
