// Wire types and service descriptor for the fractal render service
package rpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype used for render calls.
const CodecName = "json"

// CalculateJuliaMethod is the full method name of the unary render call.
const CalculateJuliaMethod = "/fractal.FractalService/CalculateJulia"

// JuliaRequest asks a replica to render one Julia set frame.
type JuliaRequest struct {
	CReal         float64 `json:"c_real"`
	CImag         float64 `json:"c_imag"`
	Width         int32   `json:"width"`
	Height        int32   `json:"height"`
	MaxIterations int32   `json:"max_iterations"`
	PolyDegree    int32   `json:"poly_degree"`
	XMin          float64 `json:"x_min"`
	XMax          float64 `json:"x_max"`
	YMin          float64 `json:"y_min"`
	YMax          float64 `json:"y_max"`
}

// JuliaResponse carries the rendered frame and the replica's own timing.
type JuliaResponse struct {
	RGBAData          []byte  `json:"rgba_data,omitempty"`
	CalculationTimeMs float64 `json:"calculation_time_ms"`
	ServerID          string  `json:"server_id"`
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// FractalServer is implemented by render replicas.
type FractalServer interface {
	CalculateJulia(context.Context, *JuliaRequest) (*JuliaResponse, error)
}

// RegisterFractalServer registers srv on a gRPC server.
func RegisterFractalServer(s grpc.ServiceRegistrar, srv FractalServer) {
	s.RegisterService(&fractalServiceDesc, srv)
}

var fractalServiceDesc = grpc.ServiceDesc{
	ServiceName: "fractal.FractalService",
	HandlerType: (*FractalServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CalculateJulia", Handler: calculateJuliaHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fractal.proto",
}

func calculateJuliaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(JuliaRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FractalServer).CalculateJulia(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CalculateJuliaMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FractalServer).CalculateJulia(ctx, req.(*JuliaRequest))
	}
	return interceptor(ctx, in, info, handler)
}
