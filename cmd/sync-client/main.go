package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

func main() {
	addr := pflag.String("addr", "127.0.0.1:9090", "TCP events server address")
	pretty := pflag.Bool("pretty", true, "pretty print JSON events")
	types := pflag.StringSlice("type", nil, "only show these event types (sync.progress, download.update, ...)")
	pflag.Parse()

	filter := map[string]bool{}
	for _, t := range *types {
		filter[strings.TrimSpace(t)] = true
	}

	for {
		if err := run(*addr, *pretty, filter); err != nil {
			log.Printf("[sync-client] disconnected: %v", err)
		}
		time.Sleep(1 * time.Second) // auto reconnect
	}
}

func run(addr string, pretty bool, filter map[string]bool) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	log.Printf("[sync-client] connected to %s", addr)

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()

		var ev envelope
		if err := json.Unmarshal(line, &ev); err != nil {
			// not JSON? print raw
			fmt.Println(string(line))
			continue
		}
		if len(filter) > 0 && !filter[ev.Type] {
			continue
		}
		if !pretty {
			fmt.Println(string(line))
			continue
		}

		var obj map[string]any
		_ = json.Unmarshal(line, &obj)
		b, _ := json.MarshalIndent(obj, "", "  ")
		fmt.Println(string(b))
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return os.ErrClosed
}
