package server

import (
	"time"

	"github.com/teranos/croplink/logger"
)

// broadcastMessage sends a message to all connected clients.
// Returns the number of clients that accepted the message (channel not full).
func (s *Server) broadcastMessage(msg interface{}) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := 0
	for client := range s.clients {
		select {
		case client.send <- msg:
			sent++
		default:
			s.broadcastDrops.Add(1)
		}
	}
	return sent
}

// startJobUpdateBroadcaster forwards queue state changes to stream clients
// until shutdown.
func (s *Server) startJobUpdateBroadcaster() {
	if s.queue == nil {
		return
	}
	updates := s.queue.Subscribe()
	log := logger.AddPulseSymbol(s.logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.queue.Unsubscribe(updates)

		for {
			select {
			case <-s.ctx.Done():
				return
			case job, ok := <-updates:
				if !ok {
					return
				}
				sent := s.broadcastMessage(JobUpdateMessage{
					Type:      "job_update",
					Job:       job,
					Timestamp: time.Now().Unix(),
				})
				log.Debugw("Job update broadcast",
					logger.FieldJobID, shortID(job.ID),
					"status", job.Status,
					"clients", sent)
			}
		}
	}()
}
