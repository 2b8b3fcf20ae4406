package guardian

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"
)

// Notifier delivers one alert message. Delivery is best-effort: failures are
// logged by the caller and never change controller state.
type Notifier interface {
	Send(message string, timeout time.Duration) error
}

// SyslogNotifier emits alerts as RFC5424 lines over TCP (e.g. to an Alloy or
// rsyslog receiver).
type SyslogNotifier struct {
	addr    string
	service string
}

func NewSyslogNotifier(addr string, service string) *SyslogNotifier {
	return &SyslogNotifier{addr: addr, service: service}
}

func (c *SyslogNotifier) Send(message string, timeout time.Duration) error {
	var conn net.Conn
	var err error
	if timeout > 0 {
		conn, err = net.DialTimeout("tcp", c.addr, timeout)
	} else {
		conn, err = net.Dial("tcp", c.addr)
	}
	if err != nil {
		return err
	}
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "-"
	}

	pri := 132 // local0.warning
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	sd := "-"
	if c.service != "" {
		sd = fmt.Sprintf("[guardian@1 service=%q]", sanitizeSyslogToken(c.service))
	}

	line := fmt.Sprintf("<%d>1 %s %s %s - - %s %s\n",
		pri, ts, sanitizeSyslogToken(host), "inventory-guardian", sd, strings.TrimSpace(message))

	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(line); err != nil {
		return err
	}
	return w.Flush()
}

func sanitizeSyslogToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// LogNotifier writes alerts to the process log. Default when no syslog
// address is configured.
type LogNotifier struct{}

func (LogNotifier) Send(message string, _ time.Duration) error {
	log.Printf("ALERT: %s", message)
	return nil
}
