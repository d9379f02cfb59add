package server

import (
	"encoding/json"
	"fmt"

	"github.com/driftchat/driftchat/pkg/bus"
	"github.com/driftchat/driftchat/pkg/protocol"
)

// startFanout subscribes once, for the process lifetime, to the
// message-created subject.
func (s *Server) startFanout() error {
	sub, err := s.bus.Subscribe(bus.SubjectMessageCreated, s.handleMessageCreated)
	if err != nil {
		return fmt.Errorf("failed to subscribe fan-out listener: %w", err)
	}
	s.sub = sub
	return nil
}

// handleMessageCreated pushes one bus event to every locally-held
// connection except the author's. A username without a local handle means
// the enumeration raced a disconnect: logged and skipped, never an error.
// Nothing here reaches a client as a command failure; there is no
// originating connection to report to.
func (s *Server) handleMessageCreated(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		errorLog.Printf("Fan-out: dropping undecodable event: %v", err)
		return
	}

	frame := protocol.NewDiscussionUpdated(msg)
	delivered, skipped := 0, 0

	for _, username := range s.registry.LocalUsernames() {
		if username == msg.UserName {
			continue
		}

		h, ok := s.registry.LocalHandle(username)
		if !ok {
			debugLog.Printf("Fan-out: no local connection for %s", username)
			skipped++
			continue
		}

		if err := h.Send(frame); err != nil {
			debugLog.Printf("Fan-out: push to %s failed: %v", username, err)
			skipped++
			continue
		}
		delivered++
	}

	if s.metrics != nil {
		s.metrics.RecordFanout(delivered, skipped)
	}
	debugLog.Printf("Fan-out: %s's message delivered to %d connections (%d skipped)", msg.UserName, delivered, skipped)
}
