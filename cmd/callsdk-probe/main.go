// callsdk-probe runs the signaling flow of a call against a backend without
// any media: it authenticates, creates the room, joins, negotiates both
// transports with a signaling-only engine and reports every state change.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	callsdk "github.com/sqecc/callsdk-go"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		name       string
		phone      string
		authToken  string
		wait       time.Duration
	)

	flagSet := pflag.NewFlagSet("callsdk-probe", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file")
	flagSet.StringVar(&name, "name", "probe", "caller name")
	flagSet.StringVar(&phone, "phone", "", "caller phone number")
	flagSet.StringVar(&authToken, "auth-token", "", "resume with this auth token instead of authenticating")
	flagSet.DurationVar(&wait, "wait", 2*time.Minute, "give up if the call is not active after this long")
	flagSet.String("environment", "", "backend environment: staging, production or custom")
	flagSet.String("website-token", "", "widget website token")
	flagSet.String("api-base-url", "", "HTTP API base URL (custom environment)")
	flagSet.String("ws-base-url", "", "WebSocket base URL (custom environment)")
	flagSet.String("protocol-version", "", "signaling protocol revision of the backend")
	flagSet.StringSlice("kinds", nil, "media kinds to negotiate (audio,video)")
	flagSet.Duration("request-timeout", 0, "signaling request timeout")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if len(authToken) == 0 && len(phone) == 0 {
		return errors.New("--phone or --auth-token is required")
	}

	config, err := callsdk.LoadConfigFlags(configPath, flagSet)
	if err != nil {
		return err
	}

	storage := callsdk.NewMemoryStorage()
	if len(authToken) > 0 {
		storage.Set(callsdk.AuthTokenKey, authToken)
	}

	client, err := callsdk.NewClient(config, newProbeEngine(), callsdk.WithStorage(storage))
	if err != nil {
		return err
	}
	defer client.Release()

	active := make(chan struct{})
	failed := make(chan string, 1)

	client.OnStateChange(func(state callsdk.State) {
		fmt.Printf("state: %s\n", state)

		if state == callsdk.StateActive {
			close(active)
		}
	})
	client.OnStatus(func(text string) {
		fmt.Printf("status: %s\n", text)
	})
	client.OnError(func(message string) {
		fmt.Printf("error: %s\n", message)

		if client.State() == callsdk.StateFailed {
			select {
			case failed <- message:
			default:
			}
		}
	})

	if len(authToken) > 0 {
		err = client.Setup()
	} else {
		err = client.Call(name, phone)
	}
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-active:
		fmt.Println("call is active")
		return nil
	case message := <-failed:
		return fmt.Errorf("call failed: %s", message)
	case <-timer.C:
		return fmt.Errorf("call not active after %s, last state %s", wait, client.State())
	case <-ctx.Done():
		return nil
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `callsdk-probe runs a call against a backend with a signaling-only engine.

Configuration is read from --config, then CALLSDK_* environment variables,
then the flags below.

Usage:
  callsdk-probe --website-token TOKEN --phone PHONE [flags]

Flags:
%s`, flagSet.FlagUsages())
}
