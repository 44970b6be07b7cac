package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
)

const (
	quizzesKey = "quiz-studio:quizzes"
	resultsKey = "quiz-studio:results"
)

// Store is an app.Store on Redis.
//
//	SET  quiz-studio:blob:{key} {json}
//	HSET quiz-studio:quizzes {quizID} {json}
//	ZADD quiz-studio:results {completedAtMillis} {json}
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func blobKey(key string) string {
	return "quiz-studio:blob:" + key
}

func (s *Store) PutBlob(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, blobKey(key), value, 0).Err()
}

func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, blobKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) DeleteBlob(ctx context.Context, key string) error {
	return s.client.Del(ctx, blobKey(key)).Err()
}

func (s *Store) PutQuiz(ctx context.Context, quiz domain.Quiz) error {
	data, err := json.Marshal(quiz)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, quizzesKey, quiz.ID, data).Err()
}

func (s *Store) GetQuiz(ctx context.Context, id string) (domain.Quiz, error) {
	data, err := s.client.HGet(ctx, quizzesKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, err
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(data, &quiz); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func (s *Store) AllQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	all, err := s.client.HGetAll(ctx, quizzesKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	quizzes := make([]domain.Quiz, 0, len(ids))
	for _, id := range ids {
		var quiz domain.Quiz
		if err := json.Unmarshal([]byte(all[id]), &quiz); err != nil {
			return nil, err
		}
		quizzes = append(quizzes, quiz)
	}
	return quizzes, nil
}

func (s *Store) DeleteQuiz(ctx context.Context, id string) error {
	return s.client.HDel(ctx, quizzesKey, id).Err()
}

func (s *Store) PutResult(ctx context.Context, result domain.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.client.ZAdd(ctx, resultsKey, redis.Z{
		Score:  float64(result.CompletedAt.UnixMilli()),
		Member: data,
	}).Err()
}

// Results returns matching results, newest first.
func (s *Store) Results(ctx context.Context, filter app.ResultFilter) ([]domain.Result, error) {
	lo := "-inf"
	if !filter.Since.IsZero() {
		lo = strconv.FormatInt(filter.Since.UnixMilli(), 10)
	}
	members, err := s.client.ZRevRangeByScore(ctx, resultsKey, &redis.ZRangeBy{Min: lo, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}

	var out []domain.Result
	for _, m := range members {
		var r domain.Result
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			return nil, err
		}
		if !filter.Match(r) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
