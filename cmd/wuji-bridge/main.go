// wuji-bridge - WebSocket bridge between operator tracking input and the
// Wuji dexterous hand, with watchdog, rate limiting and jam recovery.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wujilabs/go-wuji/internal/config"
	"github.com/wujilabs/go-wuji/internal/log"
	"github.com/wujilabs/go-wuji/pkg/bridge"
	"github.com/wujilabs/go-wuji/pkg/hand"
	"github.com/wujilabs/go-wuji/pkg/hub"
	"github.com/wujilabs/go-wuji/pkg/mqttpub"
	"github.com/wujilabs/go-wuji/pkg/web"
)

func main() {
	cfg := parseFlags()
	log.Init(cfg.LogLevel)

	h := hub.New("observers")
	go h.Run()

	br := bridge.New(cfg, h, func() (hand.Hand, error) {
		return hand.OpenSerial(hand.SerialOptions{
			Port:         cfg.SerialPort,
			USBVID:       cfg.USBVID,
			USBPID:       cfg.USBPID,
			SerialNumber: cfg.SerialNumber,
		})
	})

	if cfg.MQTTBroker != "" {
		pub, err := mqttpub.Connect(cfg.MQTTBroker, "wuji-bridge", cfg.MQTTTopic)
		if err != nil {
			log.Warn("mqtt sink disabled", "err", err)
		} else {
			defer pub.Close()
			br.SetTelemetrySink(pub)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := web.NewServer(cfg.Host, cfg.Port, h, br)
	go func() {
		log.Info("websocket server listening", "addr", cfg.Host, "port", cfg.Port)
		if err := srv.Listen(); err != nil {
			// Failing to bind the endpoint is the one fatal condition.
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()
	defer srv.Shutdown()

	if err := br.Run(ctx); err != nil {
		log.Error("bridge stopped", "err", err)
		os.Exit(1)
	}
}

// parseFlags builds the bridge configuration from defaults, flags, the
// optional mapping file, and environment overrides.
func parseFlags() bridge.Config {
	cfg := bridge.DefaultConfig()

	host := flag.String("host", cfg.Host, "WebSocket listen host")
	port := flag.Int("port", cfg.Port, "WebSocket listen port")
	serial := flag.String("serial", "", "USB serial number (optional)")
	usbVID := flag.String("usb-vid", "0x0483", "USB vendor id")
	usbPID := flag.String("usb-pid", "-1", "USB product id (-1 means any)")
	serialPort := flag.String("serial-port", "", "Device node, skipping USB discovery")
	telemetryHz := flag.Float64("telemetry-hz", cfg.TelemetryHz, "Telemetry broadcast rate")
	maxSpeed := flag.Float64("max-speed", cfg.MaxSpeedRadS, "Max joint target speed (rad/s). 0 disables limiting.")
	unjamMaxSpeed := flag.Float64("unjam-max-speed", cfg.UnjamMaxSpeedRadS,
		"Max joint target speed (rad/s) during recovery. Keep conservative; current limit is reduced during unjam.")
	maxCurl := flag.Float64("max-curl", cfg.MaxCurl, "Max curl (0=open, 1=full close). Prevents 'perfect fist'.")
	openMargin := flag.Float64("open-margin", cfg.OpenMargin,
		"OPEN safety margin (0..0.5): move OPEN target slightly towards CLOSED to avoid hard stops.")
	armResetS := flag.Float64("arm-reset-s", 0, "Seconds after ARM to force OPEN before taking tracking commands")
	resetOpenS := flag.Float64("reset-open-s", cfg.ResetOpen.Seconds(), "Seconds for recovery before giving up")
	normalCurrent := flag.Int("normal-current-ma", cfg.NormalCurrentMA, "Normal joint current limit (mA, 0..3000)")
	unjamCurrent := flag.Int("unjam-current-ma", cfg.UnjamCurrentMA, "Current limit (mA) during recovery")
	autoUnjam := flag.Bool("auto-unjam-on-error", cfg.AutoUnjamOnError,
		"Automatically enter recovery when a joint error code latches while armed")
	resetThreshold := flag.Float64("arm-reset-threshold", cfg.ResetThresholdRad, "Recovery completion threshold (rad) vs OPEN pose")
	watchdogS := flag.Float64("watchdog-s", cfg.Watchdog.Seconds(), "Seconds without command to open hand (0 disables)")
	dryRun := flag.Bool("dry-run", false, "Do not write commands to hardware")
	mapping := flag.String("mapping", "", "YAML mapping file (weights + open/closed mode)")
	writeMode := flag.String("write-mode", cfg.WriteMode, "Write mode for joint targets: unchecked or blocking")
	writeTimeout := flag.Float64("write-timeout", cfg.WriteTimeout.Seconds(), "Seconds for hardware write timeout")
	mqttBroker := flag.String("mqtt-broker", "", "Optional MQTT broker URL for telemetry (e.g. tcp://localhost:1883)")
	mqttTopic := flag.String("mqtt-topic", cfg.MQTTTopic, "MQTT telemetry topic")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	flag.Parse()

	cfg.Host = *host
	cfg.Port = *port
	cfg.SerialNumber = *serial
	cfg.USBVID = parseHexID(*usbVID, cfg.USBVID)
	cfg.USBPID = parseHexID(*usbPID, cfg.USBPID)
	cfg.SerialPort = *serialPort
	cfg.TelemetryHz = *telemetryHz
	cfg.MaxSpeedRadS = *maxSpeed
	cfg.UnjamMaxSpeedRadS = *unjamMaxSpeed
	cfg.MaxCurl = clamp01(*maxCurl)
	cfg.OpenMargin = *openMargin
	cfg.ArmReset = secondsToDuration(*armResetS)
	cfg.ResetOpen = secondsToDuration(*resetOpenS)
	cfg.NormalCurrentMA = *normalCurrent
	cfg.UnjamCurrentMA = *unjamCurrent
	cfg.AutoUnjamOnError = *autoUnjam
	cfg.ResetThresholdRad = *resetThreshold
	cfg.Watchdog = secondsToDuration(*watchdogS)
	cfg.DryRun = *dryRun
	cfg.WriteMode = *writeMode
	cfg.WriteTimeout = secondsToDuration(*writeTimeout)
	cfg.MQTTBroker = *mqttBroker
	cfg.MQTTTopic = *mqttTopic
	cfg.LogLevel = *logLevel

	if *mapping != "" {
		if err := config.LoadFile(*mapping, &cfg); err != nil {
			log.Warn("mapping load failed", "path", *mapping, "err", err)
		} else {
			log.Info("mapping loaded", "path", *mapping)
		}
	}
	config.ApplyEnv(&cfg)
	return cfg
}

// parseHexID accepts "0x0483", "0483" (hex) or "-1".
func parseHexID(s string, fallback int) int {
	if v, err := strconv.ParseInt(s, 0, 32); err == nil {
		return int(v)
	}
	if v, err := strconv.ParseInt(s, 16, 32); err == nil {
		return int(v)
	}
	return fallback
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
