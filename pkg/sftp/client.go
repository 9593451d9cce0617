package sftp

import (
	"fmt"

	"github.com/pkg/sftp"
)

// Conn is a borrowed session able to open file-transfer sub-channels.
// *ssh.Session from pkg/ssh satisfies it.
type Conn interface {
	NewSftp(opts ...sftp.ClientOption) (*sftp.Client, error)
}

// defaultClientOptions are applied to every sub-channel.
//
// Concurrent writes let File.ReadFrom pipeline requests; the request limit
// stays at the library default because some servers drop connections with
// too many requests in flight.
func defaultClientOptions() []sftp.ClientOption {
	return []sftp.ClientOption{
		sftp.UseConcurrentWrites(true),
	}
}

// openClient opens a fresh sub-channel over conn. The caller closes it.
func openClient(conn Conn, extra []sftp.ClientOption) (*sftp.Client, error) {
	opts := append(defaultClientOptions(), extra...)
	client, err := conn.NewSftp(opts...)
	if err != nil {
		return nil, fmt.Errorf("create sftp client: %w", err)
	}
	return client, nil
}
