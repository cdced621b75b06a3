// wuji-observe - CLI observer for a running wuji-bridge: prints the status
// snapshot and follows the live status/telemetry stream. Can also arm the
// bridge or trigger a recovery, replacing the old pile of one-off scripts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wujilabs/go-wuji/internal/httpc"
	"github.com/wujilabs/go-wuji/pkg/protocol"
)

func main() {
	host := flag.String("host", "localhost", "bridge host")
	port := flag.Int("port", 8765, "bridge port")
	arm := flag.Bool("arm", false, "send arm:true after connecting")
	resetOpen := flag.Bool("reset-open", false, "trigger a reset_open recovery")
	hardUnjam := flag.Bool("hard-unjam", false, "trigger a hard_unjam recovery")
	raw := flag.Bool("raw", false, "print raw JSON frames instead of summaries")
	flag.Parse()

	// One-shot REST snapshot first; cheap way to know the bridge is up.
	if resp, err := httpc.Get(fmt.Sprintf("http://%s:%d/api/status", *host, *port)); err == nil {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		fmt.Printf("status: %s\n", strings.TrimSpace(string(body)))
	}

	url := fmt.Sprintf("ws://%s:%d/ws", *host, *port)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", url, err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Printf("connected to %s\n", url)

	if *arm {
		send(conn, protocol.Arm{Type: protocol.TypeArm, Enabled: true})
	}
	if *resetOpen {
		send(conn, protocol.Envelope{Type: protocol.TypeResetOpen})
	}
	if *hardUnjam {
		send(conn, protocol.HardUnjam{Type: protocol.TypeHardUnjam})
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if *raw {
			fmt.Println(string(data))
			continue
		}
		printFrame(data)
	}
}

func send(conn *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, data)
}

func printFrame(data []byte) {
	typ, err := protocol.PeekType(data)
	if err != nil {
		return
	}

	switch typ {
	case protocol.TypeStatus:
		var s protocol.Status
		if json.Unmarshal(data, &s) != nil {
			return
		}
		fmt.Printf("[status] hardware=%v armed=%v fw=%s err=%q\n",
			s.HasHardware, s.Armed, s.FirmwareVersion, s.LastHWError)

	case protocol.TypeTelemetry:
		var t protocol.Telemetry
		if json.Unmarshal(data, &t) != nil {
			return
		}
		line := fmt.Sprintf("[telemetry] cmd_hz=%.0f", t.CmdHz)
		if t.InputVoltage != nil {
			line += fmt.Sprintf(" vin=%.2fV", *t.InputVoltage)
		}
		if t.ResetActive {
			line += fmt.Sprintf(" reset=%s(%s)", t.ResetLabel, t.ResetReason)
		}
		fmt.Println(line)
	}
}
