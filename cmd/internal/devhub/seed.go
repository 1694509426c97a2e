package devhub

import (
	"fmt"

	v1 "aifshop/contracts/hub/v1"
)

// Demo participants seeded by SeedDemo.
var (
	DemoBuyer   = v1.Participant{UserID: "u-buyer", FullName: "Bea Buyer", Role: "buyer"}
	DemoSeller  = v1.Participant{UserID: "u-seller", FullName: "Sam Seller", Role: "seller"}
	DemoSeller2 = v1.Participant{UserID: "u-seller-2", FullName: "Tia Trader", Role: "seller"}
)

// Demo conversation ids.
const (
	DemoConversation      = "C1"
	DemoOrderConversation = "C2"
)

// SeedDemo creates two buyer/seller conversations with a short history.
func SeedDemo(s *Store) error {
	if err := s.AddConversation(DemoConversation, DemoBuyer, DemoSeller); err != nil {
		return err
	}
	if err := s.AddConversation(DemoOrderConversation, DemoBuyer, DemoSeller2); err != nil {
		return err
	}

	history := []AppendInput{
		{ConversationID: DemoConversation, SenderID: DemoBuyer.UserID, Type: v1.MessageProduct, ProductID: "P-100", Content: "Is this still available?"},
		{ConversationID: DemoConversation, SenderID: DemoSeller.UserID, Content: "Yes, ships tomorrow."},
		{ConversationID: DemoOrderConversation, SenderID: DemoBuyer.UserID, Type: v1.MessageOrder, OrderID: "O-2001", Content: "Order placed"},
		{ConversationID: DemoOrderConversation, SenderID: DemoSeller2.UserID, Content: "Thanks! Packing it now."},
	}
	for i, in := range history {
		if _, _, err := s.Append(in); err != nil {
			return fmt.Errorf("seed message %d: %w", i, err)
		}
	}
	return nil
}
