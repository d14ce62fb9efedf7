package transport

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// RedisTransportTestSuite runs against a real redis; set REDIS_URL to point it elsewhere
type RedisTransportTestSuite struct {
	suite.Suite
	url string
	pub *RedisPublisher
}

func (s *RedisTransportTestSuite) SetupSuite() {
	s.url = os.Getenv("REDIS_URL")
	if s.url == "" {
		s.url = "redis://localhost:6379/1"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pub, err := BindRedis(ctx, s.url, RedisOptions{SendTimeout: time.Second, DialTimeout: time.Second})
	if err != nil {
		s.T().Skip("Redis not available, skipping redis transport tests")
		return
	}
	s.pub = pub
}

func (s *RedisTransportTestSuite) TearDownSuite() {
	if s.pub != nil {
		s.pub.Close()
	}
}

func (s *RedisTransportTestSuite) dial(prefixes ...string) *RedisSubscriber {
	sub, err := DialRedis(context.Background(), s.url, RedisOptions{})
	s.Require().NoError(err)
	for _, p := range prefixes {
		s.Require().NoError(sub.Subscribe(p))
	}
	// swallow the subscription confirmations
	for i := 0; i < len(prefixes); i++ {
		sub.Recv(200 * time.Millisecond)
	}
	return sub
}

func (s *RedisTransportTestSuite) TestPrefixFiltering() {
	physical := s.dial("twintest_actual")
	defer physical.Close()
	digital := s.dial("twintest_desired")
	defer digital.Close()

	s.Require().NoError(s.pub.Send([][]byte{[]byte("twintest_actual3 1.234500")}))

	frames, err := physical.Recv(time.Second)
	s.Require().NoError(err)
	s.Equal([][]byte{[]byte("twintest_actual3"), []byte("1.234500")}, frames)

	_, err = digital.Recv(100 * time.Millisecond)
	s.ErrorIs(err, ErrRecvTimeout)
}

func (s *RedisTransportTestSuite) TestTwoFrameSend() {
	sub := s.dial("twintest_multi")
	defer sub.Close()

	s.Require().NoError(s.pub.Send([][]byte{[]byte("twintest_multi_0"), []byte("0.100000")}))
	frames, err := sub.Recv(time.Second)
	s.Require().NoError(err)
	s.Equal("twintest_multi_0", string(frames[0]))
	s.Equal("0.100000", string(frames[1]))
}

func (s *RedisTransportTestSuite) TestRecvAfterClose() {
	sub := s.dial("twintest_closed")
	s.Require().NoError(sub.Close())
	s.NoError(sub.Close())

	_, err := sub.Recv(50 * time.Millisecond)
	s.ErrorIs(err, ErrClosed)
}

func TestRedisTransportTestSuite(t *testing.T) {
	suite.Run(t, new(RedisTransportTestSuite))
}
