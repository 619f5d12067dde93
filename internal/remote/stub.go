package remote

import (
	"context"
	"sync"
)

// PushedFile records one StubExecutor.PushFile call
type PushedFile struct {
	Address     string
	User        string
	Password    string
	Content     string
	Destination string
}

// RanCommand records one StubExecutor.RunCommand call
type RanCommand struct {
	Address  string
	User     string
	Password string
	Command  string
}

// StubExecutor is an Executor that records calls for testing.
type StubExecutor struct {
	mu       sync.Mutex
	Files    []PushedFile
	Commands []RanCommand

	// Output is returned from every successful RunCommand
	Output string

	// PushErr and RunErr fail calls for the keyed address
	PushErr map[string]error
	RunErr  map[string]error
}

func NewStubExecutor() *StubExecutor {
	return &StubExecutor{
		PushErr: make(map[string]error),
		RunErr:  make(map[string]error),
	}
}

func (s *StubExecutor) PushFile(ctx context.Context, address, user, password, content, destination string) error {
	if err := s.PushErr[address]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Files = append(s.Files, PushedFile{
		Address:     address,
		User:        user,
		Password:    password,
		Content:     content,
		Destination: destination,
	})
	return nil
}

func (s *StubExecutor) RunCommand(ctx context.Context, address, user, password, command string) (string, error) {
	if err := s.RunErr[address]; err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Commands = append(s.Commands, RanCommand{
		Address:  address,
		User:     user,
		Password: password,
		Command:  command,
	})
	return s.Output, nil
}
