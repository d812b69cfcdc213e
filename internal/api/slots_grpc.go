package api

import (
	"context"
	"strings"

	"campusbook/internal/domain"
	"campusbook/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	slotServiceName   = "campusbook.slots.v1.SlotService"
	bookedSlotsMethod = "/" + slotServiceName + "/BookedSlots"
)

// SlotServiceServer answers booked slot lookups for kiosks and partner systems.
// Requests and responses are google.protobuf.Struct values.
type SlotServiceServer interface {
	BookedSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var slotServiceDesc = grpc.ServiceDesc{
	ServiceName: slotServiceName,
	HandlerType: (*SlotServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "BookedSlots", Handler: bookedSlotsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "campusbook/slots/v1/slots.proto",
}

func RegisterSlotServiceServer(s grpc.ServiceRegistrar, srv SlotServiceServer) {
	s.RegisterService(&slotServiceDesc, srv)
}

func bookedSlotsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SlotServiceServer).BookedSlots(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: bookedSlotsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SlotServiceServer).BookedSlots(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// SlotServiceClient calls SlotService over an existing connection.
type SlotServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSlotServiceClient(cc grpc.ClientConnInterface) *SlotServiceClient {
	return &SlotServiceClient{cc: cc}
}

func (c *SlotServiceClient) BookedSlots(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, bookedSlotsMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SlotService adapts the booking engine to SlotServiceServer.
type SlotService struct {
	booking domain.BookingService
}

func NewSlotService(booking domain.BookingService) *SlotService {
	return &SlotService{booking: booking}
}

func (s *SlotService) BookedSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	str := func(name string) string {
		return strings.TrimSpace(fields[name].GetStringValue())
	}

	reservations, err := s.booking.BookedSlots(ctx, domain.SlotQuery{
		Category: models.Category(str("category")),
		Date:     str("date"),
		TimeSlot: str("time_slot"),
		Sport:    str("sport"),
		Facility: str("facility"),
		Hub:      str("hub"),
		SpaceID:  str("space_id"),
	})
	if err != nil {
		return nil, grpcStatus(err)
	}

	list := make([]interface{}, 0, len(reservations))
	for _, r := range reservations {
		participants := make([]interface{}, 0, len(r.Participants))
		for _, p := range r.Participants {
			participants = append(participants, p)
		}
		list = append(list, map[string]interface{}{
			"id":           r.ID,
			"category":     string(r.Category),
			"resource_key": r.ResourceKey,
			"title":        r.Title(),
			"date":         r.Date,
			"time_slot":    r.TimeSlot,
			"host_name":    r.HostName,
			"participants": participants,
			"status":       string(r.Status),
		})
	}

	out, err := structpb.NewStruct(map[string]interface{}{"reservations": list})
	if err != nil {
		return nil, grpcStatus(domain.Internal("failed to encode response", err))
	}
	return out, nil
}
