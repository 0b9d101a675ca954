package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/docopt/docopt-go"

	"projection.dev/projection"
)

const ProjectionCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

// host-level settings come from the environment; argv selects the
// transport.
type HostConfig struct {
	AppTitle      string        `env:"PROJECTION_APP_TITLE" envDefault:"Projection Demo"`
	BatchWindow   time.Duration `env:"PROJECTION_BATCH_WINDOW" envDefault:"16ms"`
	MaxPendingOps int           `env:"PROJECTION_MAX_PENDING_OPS" envDefault:"64"`
	TickPeriod    time.Duration `env:"PROJECTION_TICK_PERIOD" envDefault:"1s"`
	DeviceCount   int           `env:"PROJECTION_DEVICE_COUNT" envDefault:"500"`
}

func main() {
	usage := `Projection host control.

Runs a demo projection host (clock, devices, admin screens) against a
native renderer, either spawned as a child process over framed stdio or
reached over a websocket endpoint.

Usage:
    projectionctl run <renderer_command>...
    projectionctl serve --renderer_url=<renderer_url> [--jwt=<jwt>]

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --renderer_url=<renderer_url>  Websocket renderer endpoint.
    --jwt=<jwt>                    Renderer auth JWT.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ProjectionCtlVersion)
	if err != nil {
		panic(err)
	}

	config := &HostConfig{}
	if err := env.Parse(config); err != nil {
		Err.Fatalf("Could not parse host config: %s", err)
	}

	if run_, _ := opts.Bool("run"); run_ {
		run(opts, config)
	} else if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts, config)
	}
}

func run(opts docopt.Opts, config *HostConfig) {
	command := opts["<renderer_command>"].([]string)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := newDemoSession(ctx, config)
	bridge := projection.NewExecBridgeWithDefaults(ctx, session, command)
	defer bridge.Close()
	defer session.Close()

	waitForExit(cancel)
}

func serve(opts docopt.Opts, config *HostConfig) {
	rendererUrl, _ := opts.String("--renderer_url")
	jwt, _ := opts.String("--jwt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var auth *projection.RendererAuth
	if jwt != "" {
		auth = &projection.RendererAuth{
			ByJwt:      jwt,
			InstanceId: projection.NewId(),
			AppVersion: ProjectionCtlVersion,
		}
	}

	session := newDemoSession(ctx, config)
	bridge := projection.NewWsBridgeWithDefaults(ctx, session, rendererUrl, auth)
	defer bridge.Close()
	defer session.Close()

	waitForExit(cancel)
}

func newDemoSession(ctx context.Context, config *HostConfig) *projection.Session {
	router := projection.RequireNewRouter([]projection.RouteDef{
		{
			Name:          "clock",
			Path:          "/clock",
			Key:           "clock",
			ScreenModule:  "demo.clock",
			ScreenSession: "main",
		},
		{
			Name:          "devices",
			Path:          "/devices",
			Key:           "devices",
			ScreenModule:  "demo.devices",
			ScreenSession: "main",
		},
		{
			Name:          "admin",
			Path:          "/admin",
			Key:           "admin",
			ScreenModule:  "demo.admin",
			ScreenSession: "admin",
		},
	})
	screens := projection.ScreenRegistry{
		"demo.clock":   &clockScreen{},
		"demo.devices": &devicesScreen{deviceCount: config.DeviceCount},
		"demo.admin":   &adminScreen{},
	}

	settings := projection.DefaultSessionSettings()
	settings.AppTitle = config.AppTitle
	settings.BatchWindow = config.BatchWindow
	settings.MaxPendingOps = config.MaxPendingOps
	settings.TickPeriod = config.TickPeriod

	subscriptionHook := func(action projection.SubscriptionAction, topic string) {
		Out.Printf("%s %s", action, topic)
	}

	session, err := projection.NewRouterSession(ctx, router, screens, subscriptionHook, settings)
	if err != nil {
		Err.Fatalf("Could not start session: %s", err)
	}
	session.AddTelemetryCallback(func(event projection.TelemetryEvent) {
		Out.Printf("%s %v %v", event.Name, event.Measurements, event.Metadata)
	})
	return session
}

func waitForExit(cancel context.CancelFunc) {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	<-exit
	cancel()
}

// demo screens

type clockScreen struct {
}

func (self *clockScreen) Schema() map[string]any {
	return map[string]any{
		"clock_label": "",
		"tick_count":  0,
	}
}

func (self *clockScreen) Mount(params map[string]any, screenSession string, state *projection.ScreenState) (*projection.ScreenState, error) {
	state.Assign("clock_label", time.Now().Format(time.Kitchen))
	return state, nil
}

func (self *clockScreen) HandleInfo(message any, state *projection.ScreenState) (*projection.ScreenState, error) {
	if message == "tick" {
		state.Assign("clock_label", time.Now().Format(time.Kitchen))
		state.Update("tick_count", func(value any) any {
			count, _ := value.(int)
			return count + 1
		})
	}
	return state, nil
}

func (self *clockScreen) Subscriptions(params map[string]any, screenSession string) []string {
	return []string{"clock:minute"}
}

type devicesScreen struct {
	deviceCount int
}

func (self *devicesScreen) Schema() map[string]any {
	return map[string]any{
		"devices": map[string]any{},
	}
}

func (self *devicesScreen) Mount(params map[string]any, screenSession string, state *projection.ScreenState) (*projection.ScreenState, error) {
	order := []any{}
	byId := map[string]any{}
	for i := 1; i <= self.deviceCount; i += 1 {
		deviceId := fmt.Sprintf("dev-%d", i)
		order = append(order, deviceId)
		byId[deviceId] = map[string]any{
			"name":   fmt.Sprintf("Device %d", i),
			"status": "Online",
		}
	}
	state.Assign("devices", map[string]any{
		"order": order,
		"by_id": byId,
	})
	return state, nil
}

func (self *devicesScreen) HandleEvent(name string, payload map[string]any, state *projection.ScreenState) (*projection.ScreenState, error) {
	if name != "set_status" {
		return state, nil
	}
	deviceId, ok := payload["id"].(string)
	if !ok {
		return state, nil
	}
	status, ok := payload["status"].(string)
	if !ok {
		return state, nil
	}
	state.Update("devices", func(value any) any {
		devices, ok := value.(map[string]any)
		if !ok {
			return value
		}
		byId, ok := devices["by_id"].(map[string]any)
		if !ok {
			return value
		}
		device, ok := byId[deviceId].(map[string]any)
		if !ok {
			return value
		}
		nextDevice := map[string]any{}
		for key, deviceValue := range device {
			nextDevice[key] = deviceValue
		}
		nextDevice["status"] = status
		nextById := map[string]any{}
		for key, byIdValue := range byId {
			nextById[key] = byIdValue
		}
		nextById[deviceId] = nextDevice
		return map[string]any{
			"order": devices["order"],
			"by_id": nextById,
		}
	})
	return state, nil
}

func (self *devicesScreen) Subscriptions(params map[string]any, screenSession string) []string {
	return []string{"devices:status"}
}

type adminScreen struct {
}

func (self *adminScreen) Schema() map[string]any {
	return map[string]any{
		"banner": "Admin",
	}
}
