package bmi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewGRPCServer serves model with the grpc4bmi service, so in-process models
// answer the same calls as model containers. Model errors are returned with
// code Internal.
func NewGRPCServer(model Bmi, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(wireCodec{}),
		grpc.ChainUnaryInterceptor(logErrors(logger)),
	}, opts...)
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&serviceDesc, model)
	return srv, nil
}

// ServeGRPC runs the grpc4bmi service on addr until ctx is cancelled.
func ServeGRPC(ctx context.Context, logger *slog.Logger, addr string, model Bmi) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv, err := NewGRPCServer(model, logger)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("bmi grpc server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	select {
	case <-ctx.Done():
		srv.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

func logErrors(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("bmi call failed", "method", info.FullMethod, "err", err)
		}
		return resp, err
	}
}

// unary builds a method handler that decodes into a fresh In and calls fn.
func unary[In any, PIn interface {
	*In
	message
}](method string, fn func(ctx context.Context, m Bmi, in PIn) (message, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PIn(new(In))
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				out, err := fn(ctx, srv.(Bmi), req.(PIn))
				if err != nil {
					return nil, status.Error(codes.Internal, err.Error())
				}
				if out == nil {
					out = &empty{}
				}
				return out, nil
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			return interceptor(ctx, in, info, call)
		},
	}
}

func emptyCall(method string, fn func(ctx context.Context, m Bmi) (message, error)) grpc.MethodDesc {
	return unary(method, func(ctx context.Context, m Bmi, _ *empty) (message, error) { return fn(ctx, m) })
}

func varCall(method string, fn func(ctx context.Context, m Bmi, name string) (message, error)) grpc.MethodDesc {
	return unary(method, func(ctx context.Context, m Bmi, in *text) (message, error) { return fn(ctx, m, in.v) })
}

func gridCall(method string, fn func(ctx context.Context, m Bmi, grid int) (message, error)) grpc.MethodDesc {
	return unary(method, func(ctx context.Context, m Bmi, in *integer) (message, error) { return fn(ctx, m, int(in.v)) })
}

func textOut(s string, err error) (message, error)       { return &text{v: s}, err }
func numberOut(v float64, err error) (message, error)    { return &number{v: v}, err }
func integerOut(v int, err error) (message, error)       { return &integer{v: int32(v)}, err }
func doublesOut(v []float64, err error) (message, error) { return &doubles{v: v}, err }
func valuesOut(v []float64, err error) (message, error) {
	return &valueResponse{values{base: 1, kind: arrayDouble, v: v}}, err
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Bmi)(nil),
	Metadata:    "bmi.proto",
	Methods: []grpc.MethodDesc{
		unary("initialize", func(ctx context.Context, m Bmi, in *text) (message, error) {
			return nil, m.Initialize(ctx, in.v)
		}),
		emptyCall("update", func(ctx context.Context, m Bmi) (message, error) { return nil, m.Update(ctx) }),
		unary("updateUntil", func(ctx context.Context, m Bmi, in *number) (message, error) {
			return nil, m.UpdateUntil(ctx, in.v)
		}),
		emptyCall("finalize", func(ctx context.Context, m Bmi) (message, error) { return nil, m.Finalize(ctx) }),

		emptyCall("getComponentName", func(ctx context.Context, m Bmi) (message, error) {
			return textOut(m.GetComponentName(ctx))
		}),
		emptyCall("getInputVarNames", func(ctx context.Context, m Bmi) (message, error) {
			v, err := m.GetInputVarNames(ctx)
			return &names{v: v}, err
		}),
		emptyCall("getOutputVarNames", func(ctx context.Context, m Bmi) (message, error) {
			v, err := m.GetOutputVarNames(ctx)
			return &names{v: v}, err
		}),

		emptyCall("getTimeUnits", func(ctx context.Context, m Bmi) (message, error) { return textOut(m.GetTimeUnits(ctx)) }),
		emptyCall("getTimeStep", func(ctx context.Context, m Bmi) (message, error) { return numberOut(m.GetTimeStep(ctx)) }),
		emptyCall("getCurrentTime", func(ctx context.Context, m Bmi) (message, error) { return numberOut(m.GetCurrentTime(ctx)) }),
		emptyCall("getStartTime", func(ctx context.Context, m Bmi) (message, error) { return numberOut(m.GetStartTime(ctx)) }),
		emptyCall("getEndTime", func(ctx context.Context, m Bmi) (message, error) { return numberOut(m.GetEndTime(ctx)) }),

		varCall("getVarGrid", func(ctx context.Context, m Bmi, name string) (message, error) {
			return integerOut(m.GetVarGrid(ctx, name))
		}),
		varCall("getVarType", func(ctx context.Context, m Bmi, name string) (message, error) {
			return textOut(m.GetVarType(ctx, name))
		}),
		varCall("getVarItemSize", func(ctx context.Context, m Bmi, name string) (message, error) {
			return integerOut(m.GetVarItemsize(ctx, name))
		}),
		varCall("getVarUnits", func(ctx context.Context, m Bmi, name string) (message, error) {
			return textOut(m.GetVarUnits(ctx, name))
		}),
		varCall("getVarNBytes", func(ctx context.Context, m Bmi, name string) (message, error) {
			return integerOut(m.GetVarNbytes(ctx, name))
		}),
		varCall("getVarLocation", func(ctx context.Context, m Bmi, name string) (message, error) {
			loc, err := m.GetVarLocation(ctx, name)
			if err != nil {
				return nil, err
			}
			i := slices.Index(locations, loc)
			if i < 0 {
				return nil, fmt.Errorf("unknown location %q", loc)
			}
			return &integer{v: int32(i)}, nil
		}),

		varCall("getValue", func(ctx context.Context, m Bmi, name string) (message, error) {
			return valuesOut(m.GetValue(ctx, name))
		}),
		unary("getValueAtIndices", func(ctx context.Context, m Bmi, in *valueAtIndicesRequest) (message, error) {
			return valuesOut(m.GetValueAtIndices(ctx, in.name, toInts(in.indices)))
		}),
		unary("setValue", func(ctx context.Context, m Bmi, in *setValueRequest) (message, error) {
			return nil, m.SetValue(ctx, in.name, in.v)
		}),
		unary("setValueAtIndices", func(ctx context.Context, m Bmi, in *setValueAtIndicesRequest) (message, error) {
			return nil, m.SetValueAtIndices(ctx, in.name, toInts(in.indices), in.v)
		}),

		gridCall("getGridSize", func(ctx context.Context, m Bmi, grid int) (message, error) {
			return integerOut(m.GetGridSize(ctx, grid))
		}),
		gridCall("getGridType", func(ctx context.Context, m Bmi, grid int) (message, error) { return textOut(m.GetGridType(ctx, grid)) }),
		gridCall("getGridRank", func(ctx context.Context, m Bmi, grid int) (message, error) {
			return integerOut(m.GetGridRank(ctx, grid))
		}),
		gridCall("getGridShape", func(ctx context.Context, m Bmi, grid int) (message, error) {
			v, err := m.GetGridShape(ctx, grid)
			return &ints{v: toInt32s(v)}, err
		}),
		gridCall("getGridX", func(ctx context.Context, m Bmi, grid int) (message, error) { return doublesOut(m.GetGridX(ctx, grid)) }),
		gridCall("getGridY", func(ctx context.Context, m Bmi, grid int) (message, error) { return doublesOut(m.GetGridY(ctx, grid)) }),
	},
}
