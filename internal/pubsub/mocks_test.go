package pubsub

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock of mqtt.Client.
type MockClient struct {
	mock.Mock
}

var _ mqtt.Client = (*MockClient)(nil)

func (m *MockClient) IsConnected() bool      { return m.Called().Bool(0) }
func (m *MockClient) IsConnectionOpen() bool { return m.Called().Bool(0) }

func (m *MockClient) Connect() mqtt.Token {
	return m.Called().Get(0).(mqtt.Token)
}

func (m *MockClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return m.Called(topic, qos, retained, payload).Get(0).(mqtt.Token)
}

func (m *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(topic, qos, callback).Get(0).(mqtt.Token)
}

func (m *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(filters, callback).Get(0).(mqtt.Token)
}

func (m *MockClient) Unsubscribe(topics ...string) mqtt.Token {
	return m.Called(topics).Get(0).(mqtt.Token)
}

func (m *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	return m.Called().Get(0).(mqtt.ClientOptionsReader)
}

// MockToken is a testify mock of mqtt.Token.
type MockToken struct {
	mock.Mock
}

var _ mqtt.Token = (*MockToken)(nil)

func (m *MockToken) Wait() bool                       { return m.Called().Bool(0) }
func (m *MockToken) WaitTimeout(d time.Duration) bool { return m.Called(d).Bool(0) }
func (m *MockToken) Done() <-chan struct{}            { return m.Called().Get(0).(chan struct{}) }
func (m *MockToken) Error() error                     { return m.Called().Error(0) }

// completedToken returns a token that is already done with the given error.
func completedToken(err error) *MockToken {
	done := make(chan struct{})
	close(done)

	token := new(MockToken)
	token.On("Done").Return(done)
	token.On("Error").Return(err)
	token.On("Wait").Return(true)
	token.On("WaitTimeout", mock.Anything).Return(true)
	return token
}

// pendingToken returns a token that never completes.
func pendingToken() *MockToken {
	token := new(MockToken)
	token.On("Done").Return(make(chan struct{}))
	return token
}
