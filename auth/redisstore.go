// Copyright 2025 The duesync Authors
// This file is part of the duesync library.
//
// The duesync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The duesync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the duesync library. If not, see <http://www.gnu.org/licenses/>.

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCredentialKey = "duesync:credential"

// RedisStore persists the bearer in Redis so consecutive runs skip the
// exchange while the previous token is still valid. The entry expires with
// the token.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to addr. An empty password disables AUTH.
func NewRedisStore(addr, password string) *RedisStore {
	return &RedisStore{rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func (s *RedisStore) Load(ctx context.Context) (Credential, bool, error) {
	raw, err := s.rdb.Get(ctx, redisCredentialKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, err
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return Credential{}, false, err
	}
	return cred, true, nil
}

func (s *RedisStore) Save(ctx context.Context, cred Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	ttl := time.Until(cred.Expiry)
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, redisCredentialKey, raw, ttl).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
