//go:build linux

package sandbox

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// guestRequest and guestResponse mirror the wire format the guest agent
// running inside the rootfs image speaks over vsock.
type guestRequest struct {
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Stdin   string            `json:"stdin,omitempty"`
	Files   map[string]string `json:"files,omitempty"`
	Timeout int               `json:"timeout,omitempty"`
}

type guestResponse struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
	Timeout  bool   `json:"timeout,omitempty"`
}

// guestConn is a single-request-response vsock connection to a guest
// agent, grounded on the teacher's VsockConnection but simplified: one
// connection serves exactly one execute() call instead of a pooled,
// multiplexed request stream.
type guestConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

// newGuestConn dials the Firecracker-exposed vsock Unix socket at path
// and performs the CID/port handshake for the given guest port.
func newGuestConn(ctx context.Context, vsockPath string, port uint32) (*guestConn, error) {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "unix", vsockPath)
	if err != nil {
		return nil, fmt.Errorf("dial vsock socket: %w", err)
	}

	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], 0)
	binary.LittleEndian.PutUint32(header[4:8], port)
	if _, err := conn.Write(header); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send vsock header: %w", err)
	}

	return &guestConn{conn: conn, reader: bufio.NewReader(conn), writer: bufio.NewWriter(conn)}, nil
}

// execute sends req as a guestRequest and waits for the guest's
// newline-delimited JSON response.
func (g *guestConn) execute(ctx context.Context, req ExecRequest) (guestResponse, error) {
	payload, err := json.Marshal(guestRequest{
		Type:    "execute",
		Command: req.Command,
		Stdin:   req.Stdin,
		Files:   req.Files,
		Timeout: int(req.Timeout / time.Second),
	})
	if err != nil {
		return guestResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	payload = append(payload, '\n')

	if deadline, ok := ctx.Deadline(); ok {
		_ = g.conn.SetDeadline(deadline)
	}
	if _, err := g.writer.Write(payload); err != nil {
		return guestResponse{}, fmt.Errorf("write request: %w", err)
	}
	if err := g.writer.Flush(); err != nil {
		return guestResponse{}, fmt.Errorf("flush request: %w", err)
	}

	line, err := g.reader.ReadBytes('\n')
	if err != nil {
		return guestResponse{}, fmt.Errorf("read response: %w", err)
	}
	var resp guestResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return guestResponse{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if !resp.Success && resp.Error != "" {
		return resp, fmt.Errorf("guest error: %s", resp.Error)
	}
	return resp, nil
}

// Close releases the underlying vsock connection.
func (g *guestConn) Close() error {
	return g.conn.Close()
}
