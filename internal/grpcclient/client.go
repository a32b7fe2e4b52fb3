package grpcclient

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/leafscan/internal/classifier"
	"github.com/example/leafscan/internal/imageprocessor"
	"github.com/example/leafscan/internal/logging"
)

// PredictMethod is the full gRPC method name served by the model server.
// Requests and responses are google.protobuf.Struct messages:
//
//	request:  {"model": string, "shape": [n, h, w, c], "tensor": base64(little-endian float32)}
//	response: {"scores": [number, ...]}
const PredictMethod = "/leafscan.classifier.v1.Classifier/Predict"

// DialClassifier returns a ready-to-use classifier backed by the model server at addr.
func DialClassifier(ctx context.Context, addr, model string, logger *zap.Logger, opts ...grpc.DialOption) (classifier.Classifier, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClassifier(conn, model, logger), conn, nil
}

// NewClassifier wraps an existing connection.
func NewClassifier(conn grpc.ClientConnInterface, model string, logger *zap.Logger) classifier.Classifier {
	return &grpcClassifier{conn: conn, model: model, logger: logger.Named("classifier")}
}

type grpcClassifier struct {
	conn   grpc.ClientConnInterface
	model  string
	logger *zap.Logger
}

func (g *grpcClassifier) Predict(ctx context.Context, tensor *imageprocessor.Tensor) ([]float32, error) {
	req, err := EncodeRequest(g.model, tensor)
	if err != nil {
		return nil, &classifier.InferenceError{Err: logging.NewOperationError("grpcclient.encode_request", "", err)}
	}

	resp := &structpb.Struct{}
	start := time.Now()
	if err := g.conn.Invoke(ctx, PredictMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.predict", "", err)
		g.logger.Error("classifier call failed", zap.Error(wrapped), zap.String("model", g.model))
		return nil, &classifier.InferenceError{Err: wrapped}
	}

	scores, err := DecodeScores(resp)
	if err != nil {
		return nil, &classifier.InferenceError{Err: logging.NewOperationError("grpcclient.decode_scores", "", err)}
	}
	g.logger.Debug("classifier call finished",
		zap.String("model", g.model),
		zap.Int("scores", len(scores)),
		zap.Duration("latency", time.Since(start)),
	)
	return scores, nil
}

// EncodeRequest packs a tensor into the Predict request message.
func EncodeRequest(model string, tensor *imageprocessor.Tensor) (*structpb.Struct, error) {
	if tensor == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	want := int64(1)
	shape := make([]interface{}, len(tensor.Shape))
	for i, dim := range tensor.Shape {
		want *= dim
		shape[i] = dim
	}
	if len(tensor.Shape) == 0 || want != int64(len(tensor.Data)) {
		return nil, fmt.Errorf("tensor shape %v does not match %d values", tensor.Shape, len(tensor.Data))
	}

	raw := make([]byte, 4*len(tensor.Data))
	for i, v := range tensor.Data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return structpb.NewStruct(map[string]interface{}{
		"model":  model,
		"shape":  shape,
		"tensor": raw,
	})
}

// DecodeScores extracts the score vector from a Predict response.
func DecodeScores(resp *structpb.Struct) ([]float32, error) {
	field, ok := resp.GetFields()["scores"]
	if !ok {
		return nil, fmt.Errorf("response has no scores field")
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("scores field is not a list")
	}
	scores := make([]float32, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("score %d is not a number", i)
		}
		scores = append(scores, float32(n.NumberValue))
	}
	return scores, nil
}

// DecodeTensor is the inverse of EncodeRequest, used by model-server side code and tests.
func DecodeTensor(req *structpb.Struct) (*imageprocessor.Tensor, error) {
	fields := req.GetFields()
	shapeList := fields["shape"].GetListValue()
	if shapeList == nil {
		return nil, fmt.Errorf("request has no shape")
	}
	tensor := &imageprocessor.Tensor{}
	for _, v := range shapeList.GetValues() {
		tensor.Shape = append(tensor.Shape, int64(v.GetNumberValue()))
	}

	raw, err := base64.StdEncoding.DecodeString(fields["tensor"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode tensor: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("tensor payload has %d bytes", len(raw))
	}
	tensor.Data = make([]float32, len(raw)/4)
	for i := range tensor.Data {
		tensor.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return tensor, nil
}
