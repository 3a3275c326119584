package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"didi-mentor/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skStats      = "STATS"
	ttlDuration  = 90 * 24 * time.Hour // turns expire after 90 days; stats never do

	// sortableTime is fixed width so lexical order matches time order.
	sortableTime = "2006-01-02T15:04:05.000000000Z07:00"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client stores turns and per-user stats in a single DynamoDB table.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

func userPK(userID string) string {
	return "USER#" + userID
}

// turnSK orders turns chronologically; the id breaks ties within a timestamp.
func turnSK(turn domain.Turn) string {
	return skPrefixTurn + turn.At.UTC().Format(sortableTime) + "#" + turn.ID
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// SaveTurn writes a turn once. Rewriting the same turn fails the condition.
func (c *Client) SaveTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(turn.ID) == "" {
		return errors.New("repository: SaveTurn: session id and turn id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(sessionID, turn, c.ttlValue()),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// Turns returns a session's stored turns in chronological order.
func (c *Client) Turns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var turns []domain.Turn
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: Turns query: %w", err)
		}
		for _, item := range out.Items {
			t, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repository: Turns unmarshal: %w", err)
			}
			turns = append(turns, t)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return turns, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// LoadStats returns the user's stats, or an empty document at version 0.
func (c *Client) LoadStats(ctx context.Context, userID string) (domain.UserStats, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skStats},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("repository: LoadStats get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.UserStats{UserID: userID}, nil
	}
	stats, err := itemToStats(out.Item)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("repository: LoadStats decode: %w", err)
	}
	stats.UserID = userID
	return stats, nil
}

// SaveStats writes stats at Version+1, provided the stored version still
// equals stats.Version. Version 0 means the document must not exist yet.
func (c *Client) SaveStats(ctx context.Context, userID string, stats domain.UserStats) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: SaveStats: user id is required")
	}
	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      statsItem(userID, stats, stats.Version+1),
	}
	if stats.Version == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("#v = :expected")
		in.ExpressionAttributeNames = map[string]string{"#v": "version"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": numberAttr(stats.Version),
		}
	}

	_, err := c.api.PutItem(ctx, in)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("repository: SaveStats: %w", domain.ErrVersionConflict)
		}
		return fmt.Errorf("repository: SaveStats: %w", err)
	}
	return nil
}

func turnItem(sessionID string, turn domain.Turn, ttl int64) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(turn)},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"turnId":    &types.AttributeValueMemberS{Value: turn.ID},
		"role":      &types.AttributeValueMemberS{Value: string(turn.Role)},
		"text":      &types.AttributeValueMemberS{Value: turn.Text},
		"at":        &types.AttributeValueMemberS{Value: turn.At.UTC().Format(sortableTime)},
		"endCall":   &types.AttributeValueMemberBOOL{Value: turn.EndCall},
		"ttl":       numberAttr(ttl),
	}
	if turn.Emotion != "" {
		item["emotion"] = &types.AttributeValueMemberS{Value: string(turn.Emotion)}
	}
	return item
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	id, err := strAttr(item, "turnId")
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	at, err := timeAttr(item, "at")
	if err != nil {
		return domain.Turn{}, err
	}
	emotion, _ := strAttr(item, "emotion") // optional
	endCall, _ := boolAttr(item, "endCall")

	return domain.Turn{
		ID:      id,
		Role:    domain.Role(role),
		Text:    text,
		At:      at,
		Emotion: domain.EmotionTag(emotion),
		EndCall: endCall,
	}, nil
}

func statsItem(userID string, s domain.UserStats, version int64) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK":            &types.AttributeValueMemberS{Value: skStats},
		"userId":        &types.AttributeValueMemberS{Value: userID},
		"totalCalls":    numberAttr(int64(s.TotalCalls)),
		"totalTurns":    numberAttr(int64(s.TotalTurns)),
		"talkTimeMs":    numberAttr(s.TotalTalkTime.Milliseconds()),
		"currentStreak": numberAttr(int64(s.CurrentStreak)),
		"bestStreak":    numberAttr(int64(s.BestStreak)),
		"version":       numberAttr(version),
	}
	if !s.LastCallDate.IsZero() {
		item["lastCallDate"] = &types.AttributeValueMemberS{Value: s.LastCallDate.Format(time.RFC3339Nano)}
	}
	if len(s.PackProgress) > 0 {
		m := make(map[string]types.AttributeValue, len(s.PackProgress))
		for id, pct := range s.PackProgress {
			m[id] = numberAttr(int64(pct))
		}
		item["packProgress"] = &types.AttributeValueMemberM{Value: m}
	}
	if len(s.Achievements) > 0 {
		m := make(map[string]types.AttributeValue, len(s.Achievements))
		for id, at := range s.Achievements {
			m[id] = &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)}
		}
		item["achievements"] = &types.AttributeValueMemberM{Value: m}
	}
	if len(s.Flags) > 0 {
		m := make(map[string]types.AttributeValue, len(s.Flags))
		for k, v := range s.Flags {
			m[k] = &types.AttributeValueMemberBOOL{Value: v}
		}
		item["flags"] = &types.AttributeValueMemberM{Value: m}
	}
	return item
}

func itemToStats(item map[string]types.AttributeValue) (domain.UserStats, error) {
	var s domain.UserStats
	var err error
	ints := []struct {
		key string
		dst *int
	}{
		{"totalCalls", &s.TotalCalls},
		{"totalTurns", &s.TotalTurns},
		{"currentStreak", &s.CurrentStreak},
		{"bestStreak", &s.BestStreak},
	}
	for _, f := range ints {
		if *f.dst, err = intAttr(item, f.key); err != nil {
			return domain.UserStats{}, err
		}
	}
	ms, err := int64Attr(item, "talkTimeMs")
	if err != nil {
		return domain.UserStats{}, err
	}
	s.TotalTalkTime = time.Duration(ms) * time.Millisecond
	if s.Version, err = int64Attr(item, "version"); err != nil {
		return domain.UserStats{}, err
	}
	if _, ok := item["lastCallDate"]; ok {
		if s.LastCallDate, err = timeAttr(item, "lastCallDate"); err != nil {
			return domain.UserStats{}, err
		}
	}

	if m, ok := item["packProgress"].(*types.AttributeValueMemberM); ok {
		s.PackProgress = make(map[string]int, len(m.Value))
		for id := range m.Value {
			if s.PackProgress[id], err = intAttr(m.Value, id); err != nil {
				return domain.UserStats{}, err
			}
		}
	}
	if m, ok := item["achievements"].(*types.AttributeValueMemberM); ok {
		s.Achievements = make(map[string]time.Time, len(m.Value))
		for id := range m.Value {
			if s.Achievements[id], err = timeAttr(m.Value, id); err != nil {
				return domain.UserStats{}, err
			}
		}
	}
	if m, ok := item["flags"].(*types.AttributeValueMemberM); ok {
		s.Flags = make(map[string]bool, len(m.Value))
		for k := range m.Value {
			if s.Flags[k], err = boolAttr(m.Value, k); err != nil {
				return domain.UserStats{}, err
			}
		}
	}
	return s, nil
}

func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	n, err := int64Attr(item, key)
	return int(n), err
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
