package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mastercactapus/cncd/config"
	"github.com/mastercactapus/cncd/controller"
	"github.com/mastercactapus/cncd/taskrunner"
	"github.com/mastercactapus/cncd/watchdir"
	"github.com/sirupsen/logrus"
)

func main() {
	cfgPath := flag.String("config", "", "Path to a YAML config file.")
	envFile := flag.String("env", ".env", "Environment file to load before the config.")
	addr := flag.String("addr", "", "Address to bind the server to. Overrides the config.")
	dir := flag.String("dir", "", "Watch directory to use. Overrides the config.")
	logLevel := flag.String("log-level", "", "Log level. Overrides the config.")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		logrus.WithError(err).Fatal("load env file")
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			logrus.WithError(err).Fatal("load config")
		}
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *dir != "" {
		cfg.WatchDir = *dir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := cfg.Logger()
	log := logrus.NewEntry(logger)

	reg := controller.NewRegistry(log)
	tasks := taskrunner.New(taskrunner.Options{
		Shell: cfg.Shell,
		Log:   log,
	})
	srv := newServer(cfg, reg, watchdir.New(cfg.WatchDir, log), tasks, log)

	for i, conn := range cfg.Connections {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, _, err := srv.open(ctx, conn)
		cancel()
		if err != nil {
			log.WithError(err).WithField("connection", i).Error("open connection")
		}
	}

	h := &http.Server{
		Addr: cfg.Listen,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			log.WithFields(logrus.Fields{
				"method": req.Method,
				"path":   req.URL.Path,
				"remote": req.RemoteAddr,
			}).Debug("request")
			srv.ServeHTTP(w, req)
		}),
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Shutdown(ctx)
	}()

	log.WithFields(logrus.Fields{"addr": cfg.Listen, "dir": cfg.WatchDir}).Info("listening")
	err := h.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("serve")
	}

	srv.Close()
	reg.Close()
	tasks.Wait()
}
