package cmd

import (
	"fmt"
	"net/http"
	_ "net/http/pprof" //ok in production https://medium.com/google-cloud/continuous-profiling-of-go-programs-96d4416af77b
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/driftsync/hub/internal/hub"
	"github.com/driftsync/hub/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the real-time connection hub",
	Long: `Serve runs the websocket hub that routes messages between the
devices of driftsync users. Set parameters with environment variables,
for example:

export HUB_LISTEN=127.0.0.1:8088
export HUB_LOG_LEVEL=warn
export HUB_LOG_FORMAT=json
export HUB_LOG_FILE=/var/log/hub/hub.log
export HUB_PROFILE=true
export HUB_PORT_PROFILE=6061
export HUB_SEND_TIMEOUT=5s
export HUB_HEARTBEAT_TIMEOUT=90s
export HUB_SWEEP_EVERY=30s
export HUB_QUEUE_SIZE=256
export HUB_MAX_MESSAGE_SIZE=65536
hub serve

Notes:
HUB_SEND_TIMEOUT bounds how long a sender waits for a slow connection
HUB_SWEEP_EVERY is an optional tuning parameter that can safely be left at the default value

`,
	Run: func(cmd *cobra.Command, args []string) {

		viper.SetEnvPrefix("HUB")
		viper.AutomaticEnv()

		viper.SetDefault("listen", "127.0.0.1:8088")
		viper.SetDefault("log_file", "/var/log/hub/hub.log")
		viper.SetDefault("log_format", "json")
		viper.SetDefault("log_level", "warn")
		viper.SetDefault("max_message_size", 65536)
		viper.SetDefault("port_profile", 6061)
		viper.SetDefault("profile", "false")
		viper.SetDefault("queue_size", 256)
		viper.SetDefault("heartbeat_timeout", "90s")
		viper.SetDefault("send_timeout", "5s")
		viper.SetDefault("sweep_every", "30s")

		listen := viper.GetString("listen")
		logFile := viper.GetString("log_file")
		logFormat := viper.GetString("log_format")
		logLevel := viper.GetString("log_level")
		maxMessageSize := viper.GetInt64("max_message_size")
		portProfile := viper.GetInt("port_profile")
		profile := viper.GetBool("profile")
		queueSize := viper.GetInt("queue_size")
		heartbeatTimeoutStr := viper.GetString("heartbeat_timeout")
		sendTimeoutStr := viper.GetString("send_timeout")
		sweepEveryStr := viper.GetString("sweep_every")

		// parse durations

		sendTimeout, err := time.ParseDuration(sendTimeoutStr)
		if err != nil {
			fmt.Println("cannot parse duration in HUB_SEND_TIMEOUT=" + sendTimeoutStr)
			os.Exit(1)
		}

		heartbeatTimeout, err := time.ParseDuration(heartbeatTimeoutStr)
		if err != nil {
			fmt.Println("cannot parse duration in HUB_HEARTBEAT_TIMEOUT=" + heartbeatTimeoutStr)
			os.Exit(1)
		}

		sweepEvery, err := time.ParseDuration(sweepEveryStr)
		if err != nil {
			fmt.Println("cannot parse duration in HUB_SWEEP_EVERY=" + sweepEveryStr)
			os.Exit(1)
		}

		// set up logging
		switch strings.ToLower(logLevel) {
		case "trace":
			log.SetLevel(log.TraceLevel)
		case "debug":
			log.SetLevel(log.DebugLevel)
		case "info":
			log.SetLevel(log.InfoLevel)
		case "warn":
			log.SetLevel(log.WarnLevel)
		case "error":
			log.SetLevel(log.ErrorLevel)
		case "fatal":
			log.SetLevel(log.FatalLevel)
		case "panic":
			log.SetLevel(log.PanicLevel)
		default:
			fmt.Println("HUB_LOG_LEVEL can be trace, debug, info, warn, error, fatal or panic but not " + logLevel)
			os.Exit(1)
		}

		switch strings.ToLower(logFormat) {
		case "json":
			log.SetFormatter(&log.JSONFormatter{})
		case "text":
			log.SetFormatter(&log.TextFormatter{})
		default:
			fmt.Println("HUB_LOG_FORMAT can be json or text but not " + logFormat)
			os.Exit(1)
		}

		if strings.ToLower(logFile) == "stdout" {

			log.SetOutput(os.Stdout)

		} else {

			file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err == nil {
				log.SetOutput(file)
			} else {
				log.Infof("Failed to log to %s, logging to default stderr", logFile)
			}
		}

		// Report useful info
		log.Infof("hub version: %s", versionString())
		log.Infof("Listen: [%s]", listen)
		log.Infof("Log file: [%s]", logFile)
		log.Infof("Log format: [%s]", logFormat)
		log.Infof("Log level: [%s]", logLevel)
		log.Infof("Max message size: [%d]", maxMessageSize)
		log.Infof("Profiling is on: [%t]", profile)
		log.Infof("Queue size: [%d]", queueSize)
		log.Infof("Heartbeat timeout: [%s]", heartbeatTimeout)
		log.Infof("Send timeout: [%s]", sendTimeout)
		log.Infof("Sweep every: [%s]", sweepEvery)

		// Optionally start the profiling server
		if profile {
			go func() {
				url := "localhost:" + strconv.Itoa(portProfile)
				err := http.ListenAndServe(url, nil)
				if err != nil {
					log.Errorf("%s", err.Error())
				}
			}()
		}

		var wg sync.WaitGroup

		closed := make(chan struct{})

		c := make(chan os.Signal, 1)

		signal.Notify(c, os.Interrupt)

		go func() {
			for range c {
				close(closed)
				wg.Wait()
				os.Exit(0)
			}
		}()

		hubConfig := hub.NewDefaultConfig().
			WithSendTimeout(sendTimeout).
			WithQueueSize(queueSize).
			WithSweepEvery(sweepEvery)
		hubConfig.HeartbeatTimeout = heartbeatTimeout
		hubConfig.MaxMessageSize = maxMessageSize

		config := &relay.Config{
			Listen: listen,
			Hub:    hubConfig,
		}

		wg.Add(1)

		go relay.Relay(closed, &wg, config)

		wg.Wait()

	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
