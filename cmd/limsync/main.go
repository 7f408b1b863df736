// Command limsync scans a pair of endpoints, computes their diff, and
// applies a single fixed resolution action to every difference found. It is
// deliberately not a subcommand dispatcher: two positional endpoint
// arguments plus a handful of flags, in the spirit of a focused sync tool
// rather than a daemon CLI.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/dariosky/limsync/internal/apply"
	"github.com/dariosky/limsync/internal/compare"
	"github.com/dariosky/limsync/internal/config"
	"github.com/dariosky/limsync/internal/deletionintent"
	"github.com/dariosky/limsync/internal/endpoint"
	"github.com/dariosky/limsync/internal/logging"
	"github.com/dariosky/limsync/internal/model"
	"github.com/dariosky/limsync/internal/planner"
	"github.com/dariosky/limsync/internal/scan"
	"github.com/dariosky/limsync/internal/sshpool"
	"github.com/dariosky/limsync/internal/store"
)

var log = logging.Root.Sublogger("limsync")

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("limsync", flag.ExitOnError)
	stateDBFlag := fs.String("state-db", "", "review-state database path (default: derived from the endpoint pair)")
	actionFlag := fs.String("action", "suggested", "resolution applied to every diff: suggested, left-wins, right-wins, or ignore")
	applyFlag := fs.Bool("apply", false, "execute the resulting plan instead of only reporting it")
	subtreeFlag := fs.String("subtree", "", "restrict the scan to a relative subtree of both roots")
	fs.Parse(args)

	if fs.NArg() != 2 {
		return errors.New("usage: limsync [flags] <source-endpoint> <destination-endpoint>")
	}

	action, err := parseAction(*actionFlag)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}

	sourceSpec, err := endpoint.Parse(fs.Arg(0))
	if err != nil {
		return errors.Wrap(err, "invalid source endpoint")
	}
	destinationSpec, err := endpoint.Parse(fs.Arg(1))
	if err != nil {
		return errors.Wrap(err, "invalid destination endpoint")
	}

	stateDBPath := *stateDBFlag
	if stateDBPath == "" {
		stateDBPath, err = endpoint.DefaultStateDBPath(sourceSpec, destinationSpec)
		if err != nil {
			return errors.Wrap(err, "unable to derive default state database path")
		}
	}

	pool := sshpool.New(dialSSH)
	defer pool.CloseAll()

	sourceSide, sourceRecords, sourceElapsed, destinationSide, destinationRecords, destinationElapsed, err :=
		scanBothEndpoints(pool, sourceSpec, destinationSpec, stateDBPath, *subtreeFlag, cfg.SSHCompression)
	if err != nil {
		return err
	}

	stateStore := store.New(stateDBPath)

	previousContentStates := map[string]model.ContentState{}
	if previousDiffs, loadErr := stateStore.LoadCurrentDiffs(); loadErr == nil {
		for _, d := range previousDiffs {
			previousContentStates[d.Relpath] = d.ContentState
		}
	}

	diffs := compare.Records(sourceRecords, destinationRecords, cfg.MTimeToleranceNS)
	diffs = deletionintent.Apply(diffs, previousContentStates)

	summary := summarize(sourceSpec, destinationSpec, sourceElapsed, destinationElapsed, len(sourceRecords), len(destinationRecords), diffs)
	if err := stateStore.SaveCurrentState(summary, diffs); err != nil {
		return errors.Wrap(err, "unable to persist scan state")
	}

	printSummary(summary)

	overrides := make(map[string]model.PlanAction, len(diffs))
	for _, d := range diffs {
		overrides[d.Relpath] = action
	}
	ops := planner.BuildPlanOperations(diffs, overrides)

	if !*applyFlag {
		fmt.Printf("Plan: %d operation(s). Re-run with -apply to execute; review DB: %s\n", len(ops), stateDBPath)
		return nil
	}

	settings := apply.Settings{
		SSHCompression:       cfg.SSHCompression,
		SFTPPutConfirm:       cfg.SFTPPutConfirm,
		ProgressEmitEveryOps: cfg.ProgressEmitEveryOps,
		ProgressEmitEveryMS:  cfg.ProgressEmitEveryMS,
	}
	result := apply.Execute(sourceSide, destinationSide, ops, settings, applyProgress)

	fmt.Printf("Completed %d/%d operations. %s\n", result.SucceededOperations, result.TotalOperations, result.Throughput())
	for i, msg := range result.Errors {
		if i >= 10 {
			fmt.Printf("... and %d more error(s)\n", len(result.Errors)-10)
			break
		}
		fmt.Println(msg)
	}

	return nil
}

func parseAction(raw string) (model.PlanAction, error) {
	switch raw {
	case "suggested":
		return model.Suggested, nil
	case "left-wins":
		return model.LeftWins, nil
	case "right-wins":
		return model.RightWins, nil
	case "ignore":
		return model.Ignore, nil
	default:
		return "", errors.Errorf("unknown action %q (want suggested, left-wins, right-wins, or ignore)", raw)
	}
}

func applyProgress(done, total int, op model.PlanOperation, ok bool, opErr error) {
	status := "ok"
	if !ok {
		status = fmt.Sprintf("failed: %v", opErr)
	}
	fmt.Printf("[%d/%d] %s %s: %s\n", done, total, op.Kind, op.Relpath, status)
}

// scanOutcome carries one side's scanEndpoint result across a goroutine
// boundary, joined back in scanBothEndpoints.
type scanOutcome struct {
	side    apply.Side
	records map[string]model.FileRecord
	elapsed float64
	err     error
}

// scanBothEndpoints runs the source and destination scans concurrently in
// their own goroutines, per §5's "two parallel worker threads during scan,
// one per side". The join point waits for both and surfaces the first
// labeled error it finds, preferring the source side's when both fail so
// the reported cause is deterministic rather than a function of scheduling.
func scanBothEndpoints(
	pool *sshpool.Pool,
	sourceSpec, destinationSpec endpoint.Spec,
	stateDBPath, subtree string,
	compress bool,
) (apply.Side, map[string]model.FileRecord, float64, apply.Side, map[string]model.FileRecord, float64, error) {
	var wg sync.WaitGroup
	var source, destination scanOutcome

	wg.Add(2)
	go func() {
		defer wg.Done()
		source.side, source.records, source.elapsed, source.err =
			scanEndpoint(pool, sourceSpec, stateDBPath, subtree, compress, "Source")
	}()
	go func() {
		defer wg.Done()
		destination.side, destination.records, destination.elapsed, destination.err =
			scanEndpoint(pool, destinationSpec, stateDBPath, subtree, compress, "Destination")
	}()
	wg.Wait()

	if source.err != nil {
		return nil, nil, 0, nil, nil, 0, source.err
	}
	if destination.err != nil {
		return nil, nil, 0, nil, nil, 0, destination.err
	}
	return source.side, source.records, source.elapsed,
		destination.side, destination.records, destination.elapsed, nil
}

// scanEndpoint resolves spec to a Side runtime plus its scan result,
// dialing an SSH connection through the pool for remote endpoints.
func scanEndpoint(pool *sshpool.Pool, spec endpoint.Spec, stateDBPath, subtree string, compress bool, label string) (apply.Side, map[string]model.FileRecord, float64, error) {
	started := time.Now()

	if spec.Kind == endpoint.Local {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, 0, errors.Wrap(err, "unable to determine home directory")
		}
		root, err := expandTilde(spec.Root, home)
		if err != nil {
			return nil, nil, 0, err
		}
		result, err := scan.LocalScan(root, subtree, nil)
		if err != nil {
			return nil, nil, 0, errors.Wrapf(err, "%s scan failed", label)
		}
		return apply.NewLocalSide(root, home), result.Records, time.Since(started).Seconds(), nil
	}

	user := spec.User
	if user == "" {
		user = currentUsername()
	}
	key := sshpool.Key{Host: spec.Host, User: user, Port: resolvedPort(spec.Port), Compress: compress}
	handle, err := pool.Acquire(key)
	if err != nil {
		return nil, nil, 0, errors.Wrapf(err, "%s scan failed: SSH connect", label)
	}

	sshClient, ok := handle.Client.(*ssh.Client)
	if !ok {
		return nil, nil, 0, errors.New("pooled SSH client has an unexpected type")
	}

	home, err := remoteHome(sshClient)
	if err != nil {
		return nil, nil, 0, errors.Wrapf(err, "%s scan failed: unable to resolve remote home", label)
	}

	sftpClient, err := newSFTPClient(sshClient)
	if err != nil {
		return nil, nil, 0, errors.Wrapf(err, "%s scan failed: SFTP session", label)
	}

	opener := func() (scan.Session, error) {
		return sshClient.NewSession()
	}
	result, err := scan.RemoteScan(opener, spec.Root, home, stateDBPath, subtree, nil)
	if err != nil {
		return nil, nil, 0, errors.Wrapf(err, "%s scan failed", label)
	}

	side := apply.NewRemoteSide(apply.NewSFTPAdapter(sftpClient), spec.Root, home, user, spec.Host, key.Port)
	return side, result.Records, time.Since(started).Seconds(), nil
}

func resolvedPort(port uint16) int {
	if port == 0 {
		return 22
	}
	return int(port)
}

func expandTilde(root, home string) (string, error) {
	if root == "~" {
		return home, nil
	}
	if strings.HasPrefix(root, "~/") {
		return filepath.Join(home, root[2:]), nil
	}
	return root, nil
}

// remoteHome resolves the scanning user's home directory on the remote
// host, needed by RemoteScan and RemoteSide to classify absolute symlink
// targets (§4.3).
func remoteHome(client *ssh.Client) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	out, err := session.Output("printf '%s' \"$HOME\"")
	if err != nil {
		return "", err
	}
	home := strings.TrimSpace(string(out))
	if home == "" {
		return "", errors.New("remote host reported an empty home directory")
	}
	return home, nil
}

// dialSSH is the pool's Dialer. key.Compress is not applied to an actual
// wire compression negotiation: golang.org/x/crypto/ssh implements no
// compression algorithm (no "zlib"/"zlib@openssh.com" support exists in its
// transport layer), so there is nothing in ssh.ClientConfig to set. The flag
// still has an observable effect further up: it is part of the pool key, so
// a compressed and an uncompressed request for the same host never share a
// connection.
func dialSSH(key sshpool.Key) (sshpool.Client, error) {
	hostKeyCallback, err := hostKeyCallback()
	if err != nil {
		return nil, err
	}

	authMethods, err := sshAuthMethods()
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            key.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(key.Host, fmt.Sprintf("%d", key.Port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to connect to %s", addr)
	}
	return client, nil
}

func hostKeyCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "unable to determine home directory")
	}
	path := filepath.Join(home, ".ssh", "known_hosts")
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load known_hosts at %s", path)
	}
	return callback, nil
}

// sshAuthMethods prefers a running ssh-agent (SSH_AUTH_SOCK), falling back
// to the user's default identity files.
func sshAuthMethods() ([]ssh.AuthMethod, error) {
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			return []ssh.AuthMethod{ssh.PublicKeysCallback(agentSigners(conn))}, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "unable to determine home directory")
	}
	for _, name := range []string{"id_ed25519", "id_rsa"} {
		keyPath := filepath.Join(home, ".ssh", name)
		if signer, err := signerFromFile(keyPath); err == nil {
			return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
		}
	}
	return nil, errors.New("no SSH authentication method available (no agent, no default identity file)")
}

func currentUsername() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func newSFTPClient(client *ssh.Client) (*sftp.Client, error) {
	return sftp.NewClient(client)
}

// agentSigners adapts a live ssh-agent connection to the Signers callback
// ssh.PublicKeysCallback expects, re-querying the agent on every call so a
// key added or removed mid-process is picked up.
func agentSigners(conn net.Conn) func() ([]ssh.Signer, error) {
	agentClient := agent.NewClient(conn)
	return agentClient.Signers
}

func signerFromFile(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}

func summarize(
	source, destination endpoint.Spec,
	sourceElapsed, destinationElapsed float64,
	sourceFiles, destinationFiles int,
	diffs []model.DiffRecord,
) store.Summary {
	summary := store.Summary{
		SourceEndpoint:      source.Format(),
		DestinationEndpoint: destination.Format(),
		SourceScanSeconds:   sourceElapsed,
		DestScanSeconds:     destinationElapsed,
		SourceFiles:         sourceFiles,
		DestFiles:           destinationFiles,
		ComparedPaths:       len(diffs),
	}
	for _, d := range diffs {
		switch d.ContentState {
		case model.OnlyLeft:
			summary.OnlyLeft++
		case model.OnlyRight:
			summary.OnlyRight++
		case model.Different:
			summary.DifferentContent++
		case model.Unknown:
			summary.Uncertain++
		}
		if d.ContentState == model.Identical && d.MetadataState == model.MetadataDifferent {
			summary.MetadataOnly++
		}
	}
	return summary
}

func printSummary(s store.Summary) {
	fmt.Printf("Source files: %d\n", s.SourceFiles)
	fmt.Printf("Destination files: %d\n", s.DestFiles)
	fmt.Printf("Compared paths: %d\n", s.ComparedPaths)
	fmt.Printf("Only source: %d\n", s.OnlyLeft)
	fmt.Printf("Only destination: %d\n", s.OnlyRight)
	fmt.Printf("Different content: %d\n", s.DifferentContent)
	fmt.Printf("Uncertain (same size, mtime drift): %d\n", s.Uncertain)
	fmt.Printf("Metadata-only drift: %d\n", s.MetadataOnly)
}
