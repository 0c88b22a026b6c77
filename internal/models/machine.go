package models

import (
	"net"
	"os"
	"strconv"
	"strings"
)

// Machine is one remote Windows build host from the machine registry.
type Machine struct {
	ID          string
	Name        string
	Host        string
	Port        int
	Username    string
	Password    string
	PasswordEnv string
	RemoteRoot  string
	CondaPath   string
	CondaEnv    string
}

// Address returns host:port, defaulting the port to 22.
func (m *Machine) Address() string {
	port := m.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(m.Host, strconv.Itoa(port))
}

// Secret resolves the password, preferring the PasswordEnv variable when it is set.
func (m *Machine) Secret() string {
	if m.PasswordEnv != "" {
		if v, ok := os.LookupEnv(m.PasswordEnv); ok {
			return v
		}
	}
	return m.Password
}

// TransferRoot returns RemoteRoot in the forward-slash form SFTP servers expect.
func (m *Machine) TransferRoot() string {
	return strings.ReplaceAll(m.RemoteRoot, `\`, "/")
}
