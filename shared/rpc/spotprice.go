// Package rpc declares the SpotPriceService gRPC contract. Messages travel as
// google.protobuf.Struct so no generated code is needed on either side.
package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/linluma/indodax/shared/models"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "indodax.spotprice.SpotPriceService"

	GetAvailablePairsMethod = "/" + ServiceName + "/GetAvailablePairs"
	SubscribeMethod         = "/" + ServiceName + "/Subscribe"
)

// BookSender streams books to one subscriber
type BookSender interface {
	Send(book models.OrderBook) error
	Context() context.Context
}

// SpotPriceServiceServer is the server API for SpotPriceService
type SpotPriceServiceServer interface {
	// GetAvailablePairs lists the pairs the server streams, channel form
	GetAvailablePairs(ctx context.Context) ([]string, error)

	// Subscribe streams books for pairs until the client goes away.
	// No pairs means every pair.
	Subscribe(pairs []string, stream BookSender) error
}

// ServiceDesc is the grpc.ServiceDesc for SpotPriceService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SpotPriceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetAvailablePairs",
			Handler:    getAvailablePairsHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "spotprice.proto",
}

// RegisterSpotPriceServiceServer registers srv on s
func RegisterSpotPriceServiceServer(s grpc.ServiceRegistrar, srv SpotPriceServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getAvailablePairsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, _ interface{}) (interface{}, error) {
		pairs, err := srv.(SpotPriceServiceServer).GetAvailablePairs(ctx)
		if err != nil {
			return nil, err
		}
		return pairsMessage(pairs), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetAvailablePairsMethod,
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SpotPriceServiceServer).Subscribe(pairsFromMessage(in), &bookServerStream{stream})
}

type bookServerStream struct {
	grpc.ServerStream
}

func (s *bookServerStream) Send(book models.OrderBook) error {
	return s.ServerStream.SendMsg(BookToStruct(book))
}

// SpotPriceClient is the client API for SpotPriceService
type SpotPriceClient struct {
	cc grpc.ClientConnInterface
}

func NewSpotPriceClient(cc grpc.ClientConnInterface) *SpotPriceClient {
	return &SpotPriceClient{cc: cc}
}

func (c *SpotPriceClient) GetAvailablePairs(ctx context.Context, opts ...grpc.CallOption) ([]string, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetAvailablePairsMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	return pairsFromMessage(out), nil
}

// Subscribe opens a book stream for pairs
func (c *SpotPriceClient) Subscribe(ctx context.Context, pairs []string, opts ...grpc.CallOption) (*BookStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], SubscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(pairsMessage(pairs)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &BookStream{stream: stream}, nil
}

// BookStream receives books from a Subscribe call
type BookStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next book. io.EOF marks a clean end of stream.
func (s *BookStream) Recv() (models.OrderBook, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return models.OrderBook{}, err
	}
	return BookFromStruct(msg)
}

func pairsMessage(pairs []string) *structpb.Struct {
	values := make([]*structpb.Value, len(pairs))
	for i, p := range pairs {
		values[i] = structpb.NewStringValue(p)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"pairs": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func pairsFromMessage(msg *structpb.Struct) []string {
	values := msg.GetFields()["pairs"].GetListValue().GetValues()
	pairs := make([]string, 0, len(values))
	for _, v := range values {
		if s := v.GetStringValue(); s != "" {
			pairs = append(pairs, s)
		}
	}
	return pairs
}

// BookToStruct encodes a book as {pair, buy, sell, received_at}
func BookToStruct(book models.OrderBook) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"pair":        structpb.NewStringValue(book.Pair.Command()),
		"buy":         levelsValue(book.Buy),
		"sell":        levelsValue(book.Sell),
		"received_at": structpb.NewStringValue(book.ReceivedAt.UTC().Format(time.RFC3339Nano)),
	}}
}

// BookFromStruct decodes a message built by BookToStruct
func BookFromStruct(msg *structpb.Struct) (models.OrderBook, error) {
	fields := msg.GetFields()

	pair, err := models.ParsePair(fields["pair"].GetStringValue())
	if err != nil {
		return models.OrderBook{}, err
	}
	buy, err := levelsFromValue(fields["buy"])
	if err != nil {
		return models.OrderBook{}, fmt.Errorf("buy: %w", err)
	}
	sell, err := levelsFromValue(fields["sell"])
	if err != nil {
		return models.OrderBook{}, fmt.Errorf("sell: %w", err)
	}

	book := models.OrderBook{Pair: pair, Buy: buy, Sell: sell}
	if ts := fields["received_at"].GetStringValue(); ts != "" {
		book.ReceivedAt, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return models.OrderBook{}, fmt.Errorf("received_at: %w", err)
		}
	}
	return book, nil
}

func levelsValue(levels []models.PriceLevel) *structpb.Value {
	values := make([]*structpb.Value, len(levels))
	for i, l := range levels {
		values[i] = structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
			structpb.NewNumberValue(l.Price()),
			structpb.NewNumberValue(l.Volume()),
		}})
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

func levelsFromValue(v *structpb.Value) ([]models.PriceLevel, error) {
	values := v.GetListValue().GetValues()
	levels := make([]models.PriceLevel, 0, len(values))
	for i, item := range values {
		pair := item.GetListValue().GetValues()
		if len(pair) != 2 {
			return nil, fmt.Errorf("level %d: want [price, volume], got %d values", i, len(pair))
		}
		levels = append(levels, models.PriceLevel{pair[0].GetNumberValue(), pair[1].GetNumberValue()})
	}
	return levels, nil
}
