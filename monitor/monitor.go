// Package monitor dials a live WebSocket feed of an archive byte
// stream — an archive header once, then a run of frames — and pumps
// it through the same frame.Decoder the file codec uses, so a remote
// buoy or shore station's live feed reports FrameCorrupt events and
// decoded frames through the identical state machine as a decoded
// file. Grounded on the teacher's KiwiClient: dial, run a message
// loop on its own goroutine, signal shutdown through a stop channel.
package monitor

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simonwerner/x3archive/archive"
	"github.com/simonwerner/x3archive/frame"
	"github.com/simonwerner/x3archive/telemetry"
	"github.com/simonwerner/x3archive/x3"
)

// Client dials a remote x3 live feed and decodes it frame by frame.
type Client struct {
	url       string
	telemetry *telemetry.Publisher
	archiveID string

	mu       sync.Mutex
	conn     *websocket.Conn
	running  bool
	stopChan chan struct{}

	// Frames decodes successfully as well as FrameCorruptEvent errors,
	// one per detected resynchronisation, are delivered here.
	Frames chan *frame.Frame
	Errors chan error
}

// NewClient returns a Client for the given WebSocket URL. archiveID
// tags every telemetry event this client publishes; pub may be nil.
func NewClient(wsURL, archiveID string, pub *telemetry.Publisher) *Client {
	return &Client{
		url:       wsURL,
		telemetry: pub,
		archiveID: archiveID,
		stopChan:  make(chan struct{}),
		Frames:    make(chan *frame.Frame, 256),
		Errors:    make(chan error, 256),
	}
}

// Run dials the feed and decodes it, redialling with exponential
// backoff (doubling from one second, capped at a minute) each time a
// dial fails or a connection ends, until Close is called. It blocks
// until then; callers typically run it in its own goroutine.
func (c *Client) Run() {
	backoff := time.Second
	const maxBackoff = 60 * time.Second
	for {
		select {
		case <-c.stopChan:
			close(c.Frames)
			close(c.Errors)
			return
		default:
		}

		if err := c.runOnce(); err != nil {
			c.Errors <- fmt.Errorf("monitor: %w", err)
			log.Printf("monitor: connection to %s ended: %v (retrying in %s)", c.url, err, backoff)
		}

		select {
		case <-c.stopChan:
			close(c.Frames)
			close(c.Errors)
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) runOnce() error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid monitor URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.running = true
	c.mu.Unlock()
	defer func() {
		conn.Close()
		c.mu.Lock()
		c.running = false
		c.conn = nil
		c.mu.Unlock()
	}()

	pr, pw := io.Pipe()
	defer pw.Close()

	go c.pumpMessages(conn, pw)

	return c.decodeLoop(pr)
}

// pumpMessages reads binary WebSocket messages, each a contiguous
// chunk of archive bytes, and writes their payloads into pw so
// decodeLoop can treat the feed as an ordinary byte stream.
func (c *Client) pumpMessages(conn *websocket.Conn, pw *io.PipeWriter) {
	defer pw.Close()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if _, err := pw.Write(data); err != nil {
			return
		}
	}
}

// decodeLoop reads the archive header once, then feeds every
// subsequent chunk the pump goroutine relays into the frame decoder
// and drains whatever frames that chunk made decodable, so a frame is
// reported the moment its bytes complete rather than only once the
// connection eventually drops.
func (c *Client) decodeLoop(r io.Reader) error {
	dec, err := readArchiveHeader(r)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("parsing archive header from feed: %w", err)
	}

	chunk := make([]byte, 4096)
	for {
		for dec.Ready() {
			fr, err := dec.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				if kind, ok := x3.KindOf(err); ok && kind == x3.KindFrameCorrupt {
					c.Errors <- err
					if c.telemetry != nil {
						skipped := 0
						if xe, ok2 := err.(*x3.Error); ok2 {
							skipped = xe.SkippedBits
						}
						c.telemetry.PublishFrameCorrupt(c.archiveID, 0, skipped)
					}
					continue
				}
				return err
			}
			c.Frames <- fr
		}

		n, err := r.Read(chunk)
		if n > 0 {
			dec.Feed(chunk[:n])
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// readArchiveHeader accumulates bytes from r until enough have
// arrived to parse a complete archive header, since the header has no
// length prefix of its own: UnmarshalHeader's UnexpectedEOF is the
// "read more" signal, anything else is fatal.
func readArchiveHeader(r io.Reader) (*archive.Decoder, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		dec, err := archive.NewDecoder(buf)
		if err == nil {
			return dec, nil
		}
		if kind, ok := x3.KindOf(err); !ok || kind != x3.KindUnexpectedEOF {
			return nil, err
		}
		n, rerr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

// IsRunning reports whether the client currently holds an open
// connection.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Close stops Run and closes the active connection, if any.
func (c *Client) Close() {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}
