package mocks

import (
	"context"

	"github.com/dukex/drip/pkg/dispatcher"
	"github.com/stretchr/testify/mock"
)

// MockDispatcher is a mock implementation of dispatcher.Dispatcher interface.
type MockDispatcher struct {
	mock.Mock
}

var _ dispatcher.Dispatcher = (*MockDispatcher)(nil)

func (m *MockDispatcher) Send(ctx context.Context, msg dispatcher.Message) error {
	args := m.Called(ctx, msg)

	return args.Error(0)
}

func (m *MockDispatcher) MutateContact(ctx context.Context, contactID string, op dispatcher.ContactOperation) error {
	args := m.Called(ctx, contactID, op)

	return args.Error(0)
}
