// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sshclient is a thin example front end over lib/ssh: it dials a
// server, authenticates, and either runs a single remote command or opens
// an interactive shell. It is explicitly not part of the core (spec.md
// section 1 excludes the CLI) -- it exists to drive the library end to
// end against a real server.
package main

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net"
	"os"

	"github.com/sshc/sshc/lib/ssh"
	"github.com/sshc/sshc/lib/ssh/terminal"
)

func main() {
	var (
		addr       = flag.String("addr", "", "host:port of the SSH server")
		user       = flag.String("user", "", "username to authenticate as")
		password   = flag.String("password", "", "password for password authentication")
		identity   = flag.String("identity", "", "path to a PEM-encoded private key for publickey authentication")
		command    = flag.String("cmd", "", "remote command to run; if empty, opens an interactive shell")
		insecure   = flag.Bool("insecure-ignore-host-key", false, "accept any host key (testing only)")
	)
	flag.Parse()

	if *addr == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "usage: sshclient -addr host:port -user name [-password pw | -identity keyfile] [-cmd command]")
		os.Exit(2)
	}

	config := &ssh.ClientConfig{
		User: *user,
	}

	if *password != "" {
		config.Auth = append(config.Auth, ssh.Password(*password))
	}
	if *identity != "" {
		signer, err := loadSigner(*identity)
		if err != nil {
			log.Fatalf("sshclient: %v", err)
		}
		config.Auth = append(config.Auth, ssh.PublicKeys(signer))
	}
	if len(config.Auth) == 0 {
		log.Fatal("sshclient: at least one of -password or -identity is required")
	}

	if *insecure {
		config.HostKeyCallback = func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			return nil
		}
	} else {
		log.Fatal("sshclient: a HostKeyCallback is required; pass -insecure-ignore-host-key for testing, or wire in a known_hosts lookup")
	}

	client, err := ssh.Dial("tcp", *addr, config)
	if err != nil {
		log.Fatalf("sshclient: dial %s: %v", *addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		log.Fatalf("sshclient: new session: %v", err)
	}
	defer session.Close()

	session.Stdout = os.Stdout
	session.Stderr = os.Stderr
	session.Stdin = os.Stdin

	if *command != "" {
		if err := session.Run(*command); err != nil {
			log.Fatalf("sshclient: run %q: %v", *command, err)
		}
		return
	}

	if err := runInteractiveShell(session); err != nil {
		log.Fatalf("sshclient: shell: %v", err)
	}
}

// runInteractiveShell puts the local terminal into raw mode, requests a
// pty sized to match it, and starts a login shell.
func runInteractiveShell(session *ssh.Session) error {
	fd := int(os.Stdin.Fd())
	width, height := 80, 24
	if terminal.IsTerminal(fd) {
		if w, h, err := terminal.GetSize(fd); err == nil {
			width, height = w, h
		}
		state, err := terminal.MakeRaw(fd)
		if err == nil {
			defer terminal.Restore(fd, state)
		}
	}

	term := os.Getenv("TERM")
	if term == "" {
		term = "xterm-256color"
	}
	if err := session.RequestPty(term, height, width, ssh.TerminalModes{}); err != nil {
		return fmt.Errorf("pty-req: %w", err)
	}

	if err := session.Shell(); err != nil {
		return fmt.Errorf("shell: %w", err)
	}

	return session.Wait()
}

func loadSigner(path string) (ssh.Signer, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	key, err := parsePEMPrivateKey(block)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}

// parsePEMPrivateKey decodes the key types x509 understands (PKCS#1,
// PKCS#8, and SEC1 EC keys); stdlib has no need for a third-party PEM/ASN.1
// key parser here.
func parsePEMPrivateKey(block *pem.Block) (crypto.Signer, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		return signer, nil
	}
}
