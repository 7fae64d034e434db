package main

import (
	"crypto/tls"
	"net"

	"github.com/dmisol/simple-relay/pkg/defs"
	rtc "github.com/dmisol/simple-relay/pkg/rtc"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

func main() {
	conf := flag.StringP("config", "c", "conf.yaml", "configuration file")
	level := flag.String("log-level", "", "overrides log_level of the configuration")
	flag.Parse()

	c, err := defs.ReadConf(*conf)
	if err != nil {
		logrus.WithError(err).Fatal("conf")
	}
	if *level != "" {
		c.LogLevel = *level
	}
	if c.LogLevel != "" {
		l, err := logrus.ParseLevel(c.LogLevel)
		if err != nil {
			logrus.WithError(err).Fatal("log level")
		}
		logrus.SetLevel(l)
	}

	room, err := rtc.NewRoom(c)
	if err != nil {
		logrus.WithError(err).Fatal("room")
	}
	sh := fasthttp.FSHandler(c.Static, 0)

	srv := fasthttp.Server{
		Handler: func(r *fasthttp.RequestCtx) {
			switch string(r.Path()) {
			case "/ws":
				room.Handler(r)
			default:
				sh(r)
			}
		},
	}

	if len(c.Hosts) == 0 {
		logrus.WithField("port", c.Port).Info("listening")
		logrus.Fatal(srv.ListenAndServe(net.JoinHostPort("", c.Port)))
	}

	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(c.Hosts...),
		Cache:      autocert.DirCache("/tmp/certs"),
	}

	cfg := &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos: []string{
			"http/1.1", acme.ALPNProto,
		},
	}

	// Let's Encrypt tls-alpn-01 only works on port 443.
	ln, err := net.Listen("tcp4", "0.0.0.0:443") /* #nosec G102 */
	if err != nil {
		logrus.WithError(err).Fatal("listen")
	}

	lnTls := tls.NewListener(ln, cfg)
	logrus.WithField("hosts", c.Hosts).Info("listening on 443")
	logrus.Fatal(srv.Serve(lnTls))
}
