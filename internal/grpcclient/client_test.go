package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/leafscan/internal/classifier"
	"github.com/example/leafscan/internal/imageprocessor"
)

type predictFunc func(req *structpb.Struct) (*structpb.Struct, error)

// startModelServer serves PredictMethod over an in-memory listener.
func startModelServer(t *testing.T, predict predictFunc) *bufconn.Listener {
	t.Helper()

	desc := grpc.ServiceDesc{
		ServiceName: "leafscan.classifier.v1.Classifier",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Predict",
			Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				req := &structpb.Struct{}
				if err := dec(req); err != nil {
					return nil, err
				}
				return predict(req)
			},
		}},
	}

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	server.RegisterService(&desc, struct{}{})
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)
	return lis
}

func dialTestClassifier(t *testing.T, lis *bufconn.Listener) classifier.Classifier {
	t.Helper()
	client, conn, err := DialClassifier(context.Background(), "bufnet", "plants-v1", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("dial classifier: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return client
}

func TestPredictRoundTrip(t *testing.T) {
	var gotModel string
	var gotTensor *imageprocessor.Tensor
	lis := startModelServer(t, func(req *structpb.Struct) (*structpb.Struct, error) {
		gotModel = req.GetFields()["model"].GetStringValue()
		tensor, err := DecodeTensor(req)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		gotTensor = tensor
		return structpb.NewStruct(map[string]interface{}{
			"scores": []interface{}{0.25, 0.75},
		})
	})
	client := dialTestClassifier(t, lis)

	tensor := &imageprocessor.Tensor{Shape: []int64{1, 1, 2, 3}, Data: []float32{-1, -0.5, 0, 0.25, 0.5, 1}}
	scores, err := client.Predict(context.Background(), tensor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(scores) != 2 || scores[0] != 0.25 || scores[1] != 0.75 {
		t.Fatalf("unexpected scores: %v", scores)
	}
	if gotModel != "plants-v1" {
		t.Fatalf("unexpected model: %q", gotModel)
	}
	if len(gotTensor.Data) != len(tensor.Data) {
		t.Fatalf("tensor length mismatch: %d", len(gotTensor.Data))
	}
	for i := range tensor.Data {
		if gotTensor.Data[i] != tensor.Data[i] {
			t.Fatalf("value %d: expected %f, got %f", i, tensor.Data[i], gotTensor.Data[i])
		}
	}
	for i := range tensor.Shape {
		if gotTensor.Shape[i] != tensor.Shape[i] {
			t.Fatalf("unexpected shape %v", gotTensor.Shape)
		}
	}
}

func TestPredictSurfacesServerErrorsAsInferenceError(t *testing.T) {
	lis := startModelServer(t, func(*structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.InvalidArgument, "bad tensor shape")
	})
	client := dialTestClassifier(t, lis)

	_, err := client.Predict(context.Background(), &imageprocessor.Tensor{Shape: []int64{1}, Data: []float32{0}})

	var inferenceErr *classifier.InferenceError
	if !errors.As(err, &inferenceErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
	if status.Code(errors.Unwrap(inferenceErr.Err)) != codes.InvalidArgument {
		t.Fatalf("expected grpc status to be preserved, got %v", err)
	}
}

func TestPredictRejectsMalformedResponse(t *testing.T) {
	lis := startModelServer(t, func(*structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]interface{}{"scores": []interface{}{"high"}})
	})
	client := dialTestClassifier(t, lis)

	_, err := client.Predict(context.Background(), &imageprocessor.Tensor{Shape: []int64{1}, Data: []float32{0}})

	var inferenceErr *classifier.InferenceError
	if !errors.As(err, &inferenceErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
}

func TestEncodeRequestRejectsShapeMismatch(t *testing.T) {
	if _, err := EncodeRequest("m", &imageprocessor.Tensor{Shape: []int64{1, 2}, Data: []float32{1}}); err == nil {
		t.Fatal("expected error for mismatched shape")
	}
	if _, err := EncodeRequest("m", nil); err == nil {
		t.Fatal("expected error for nil tensor")
	}
}

func TestDecodeScoresRequiresScores(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]interface{}{"probabilities": []interface{}{1.0}})
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	if _, err := DecodeScores(resp); err == nil {
		t.Fatal("expected error when scores are missing")
	}
}
