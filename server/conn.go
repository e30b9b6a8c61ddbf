package server

import (
	"bytes"
	"io"
	"net"
)

// serveConn runs the read/parse/respond loop for one client. All state here
// is exclusively owned by this goroutine; the only shared structures it
// touches are the atomic canvas cells and the statistics counters.
//
// Failure is local: any I/O error ends this connection and nothing else.
func (s *Server) serveConn(conn net.Conn) {
	entry := s.stats.OpenConnection(conn.RemoteAddr().String())
	defer s.stats.CloseConnection(entry.ID)
	defer func() { _ = conn.Close() }()

	s.logger.Debug("connection opened", "remote", entry.Remote, "conn_id", entry.ID)

	buf := make([]byte, s.bufSize)
	resp := make([]byte, 0, 4096)
	fill := 0
	discarding := false

	for {
		n, err := conn.Read(buf[fill:])
		if n > 0 {
			s.stats.RecordBytes(entry, int64(n))
			if s.metrics != nil {
				s.metrics.bytesRead.Add(float64(n))
			}

			data := buf[:fill+n]

			// A line that overflowed the buffer earlier is dropped up to
			// its terminating newline before normal parsing resumes.
			if discarding {
				idx := bytes.IndexByte(data, '\n')
				if idx < 0 {
					fill = 0
					continue
				}
				data = data[idx+1:]
				discarding = false
			}

			consumed, out, counts := s.parser.Parse(data, resp[:0])
			resp = out

			// Responses go out in parse order, one write per pass. A slow
			// client blocks only its own loop here.
			if len(out) > 0 {
				if _, werr := conn.Write(out); werr != nil {
					s.logger.Debug("connection write failed",
						"remote", entry.Remote, "error", werr)
					return
				}
			}

			s.stats.RecordCommands(entry, counts.Commands)
			s.stats.RecordPixels(counts.PixelsSet)
			s.stats.RecordProtocolErrors(counts.Errors)
			if s.metrics != nil {
				if counts.Commands > 0 {
					s.metrics.commandsProcessed.Add(float64(counts.Commands))
				}
				if counts.PixelsSet > 0 {
					s.metrics.pixelsSet.Add(float64(counts.PixelsSet))
				}
				if counts.Errors > 0 {
					s.metrics.protocolErrors.Add(float64(counts.Errors))
				}
				if consumed > 0 {
					s.metrics.parsePassBytes.Observe(float64(consumed))
				}
			}

			// Retain the incomplete suffix for the next read
			fill = copy(buf, data[consumed:])
			if fill == len(buf) {
				// Single command line exceeds the whole buffer: drop it
				// and resync at the next newline.
				fill = 0
				discarding = true
				s.stats.RecordProtocolErrors(1)
				if s.metrics != nil {
					s.metrics.oversizedLines.Inc()
				}
				s.logger.Debug("dropping oversized line", "remote", entry.Remote)
			}
		}

		if err != nil {
			if err != io.EOF {
				if s.metrics != nil {
					s.metrics.socketErrors.Inc()
				}
				s.logger.Debug("connection read failed",
					"remote", entry.Remote, "error", err)
			} else {
				s.logger.Debug("connection closed",
					"remote", entry.Remote,
					"commands", entry.Commands(),
					"bytes", entry.Bytes())
			}
			return
		}
	}
}
