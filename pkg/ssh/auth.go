package ssh

import (
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AuthOptions selects the authentication methods offered during a handshake.
type AuthOptions struct {
	Password string
	KeyPath  string // optional private key file
	UseAgent bool   // offer keys from SSH_AUTH_SOCK
}

// AuthMethods returns authentication methods for the given options.
// Priority: key auth > password auth > keyboard-interactive > ssh agent.
//
// The returned closer releases the agent connection, if one was opened, and
// must be called once the handshake has finished.
func AuthMethods(opts AuthOptions) ([]ssh.AuthMethod, io.Closer, error) {
	var methods []ssh.AuthMethod

	if opts.KeyPath != "" {
		keyAuth, err := keyAuthMethod(opts.KeyPath, opts.Password)
		if err != nil {
			return nil, nil, fmt.Errorf("key auth: %w", err)
		}
		methods = append(methods, keyAuth)
	}

	if opts.Password != "" {
		methods = append(methods,
			ssh.Password(opts.Password),
			ssh.KeyboardInteractive(passwordChallenge(opts.Password)),
		)
	}

	closer := io.Closer(nopCloser{})
	if opts.UseAgent {
		if agentAuth, conn := trySSHAgent(); agentAuth != nil {
			methods = append(methods, agentAuth)
			closer = conn
		}
	}

	if len(methods) == 0 {
		return nil, nil, fmt.Errorf("no authentication method available")
	}
	return methods, closer, nil
}

// passwordChallenge answers every keyboard-interactive prompt with the password.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}
}

// keyAuthMethod creates an SSH auth method from a private key file. An
// encrypted key is unlocked with the passphrase.
func keyAuthMethod(keyPath, passphrase string) (ssh.AuthMethod, error) {
	expanded, err := homedir.Expand(keyPath)
	if err != nil {
		return nil, fmt.Errorf("expand key path: %w", err)
	}

	keyData, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	if block, _ := pem.Decode(keyData); block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", expanded)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if !errors.As(err, &missing) || passphrase == "" {
			return nil, fmt.Errorf("parse key %s: %w", expanded, err)
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("decrypt key %s: %w", expanded, err)
		}
	}

	return ssh.PublicKeys(signer), nil
}

// trySSHAgent connects to the SSH agent. The agent connection stays open
// because signing happens during the handshake.
func trySSHAgent() (ssh.AuthMethod, io.Closer) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil
	}

	ag := agent.NewClient(conn)
	signers, err := ag.Signers()
	if err != nil || len(signers) == 0 {
		conn.Close()
		return nil, nil
	}

	return ssh.PublicKeysCallback(ag.Signers), conn
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
