package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"didi-mentor/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	queryOuts    []*dynamodb.QueryOutput
	queryErr     error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	queryInputs  []dynamodb.QueryInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, *in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC) }
	return c
}

func sampleTurn() domain.Turn {
	return domain.Turn{
		ID:      "t-1",
		Role:    domain.RoleAssistant,
		Text:    "शाबाश!",
		At:      time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC),
		Emotion: domain.EmotionProud,
		EndCall: true,
	}
}

func sampleStats() domain.UserStats {
	return domain.UserStats{
		UserID:        "u-1",
		TotalCalls:    4,
		TotalTurns:    19,
		TotalTalkTime: 12*time.Minute + 500*time.Millisecond,
		CurrentStreak: 2,
		BestStreak:    5,
		LastCallDate:  time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC),
		PackProgress:  map[string]int{"savings": 40, "govt-schemes": 100},
		Achievements:  map[string]time.Time{"first-call": time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)},
		Flags:         map[string]bool{"festival_diwali": true},
		Version:       7,
	}
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestSaveTurn_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.SaveTurn(context.Background(), "s-1", sampleTurn()))
	item := db.lastPutInput.Item
	require.Equal(t, "SESSION#s-1", item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "TURN#2024-03-02T09:30:00.000000000Z#t-1", item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "proud", item["emotion"].(*types.AttributeValueMemberS).Value)
	require.True(t, item["endCall"].(*types.AttributeValueMemberBOOL).Value)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastPutInput.ConditionExpression)
}

func TestSaveTurn_OmitsEmptyEmotion(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	turn := sampleTurn()
	turn.Emotion = ""
	require.NoError(t, c.SaveTurn(context.Background(), "s-1", turn))
	require.NotContains(t, db.lastPutInput.Item, "emotion")
}

func TestSaveTurn_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.SaveTurn(context.Background(), "", sampleTurn())
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")

	c = mustNewClient(t, &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")})
	err = c.SaveTurn(context.Background(), "s-1", sampleTurn())
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveTurn")
}

func TestTurns_RoundTripAndPagination(t *testing.T) {
	first := sampleTurn()
	second := sampleTurn()
	second.ID, second.Role, second.Emotion, second.EndCall = "t-2", domain.RoleUser, "", false
	second.At = first.At.Add(time.Second)

	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{turnItem("s-1", first, 1)},
			LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "SESSION#s-1"}},
		},
		{Items: []map[string]types.AttributeValue{turnItem("s-1", second, 1)}},
	}}
	c := mustNewClient(t, db)

	turns, err := c.Turns(context.Background(), "s-1")
	require.NoError(t, err)
	require.Equal(t, []domain.Turn{first, second}, turns)
	require.Len(t, db.queryInputs, 2)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.queryInputs[0].KeyConditionExpression)
	require.True(t, *db.queryInputs[0].ScanIndexForward)
	require.NotEmpty(t, db.queryInputs[1].ExclusiveStartKey)
}

func TestTurns_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.Turns(context.Background(), "s-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Turns query")

	bad := map[string]types.AttributeValue{"turnId": &types.AttributeValueMemberS{Value: "t"}}
	c = mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{bad}}}})
	_, err = c.Turns(context.Background(), "s-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "role")
}

func TestLoadStats_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	stats, err := c.LoadStats(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, domain.UserStats{UserID: "u-1"}, stats)
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "USER#u-1", db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
}

func TestStats_RoundTrip(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	in := sampleStats()
	require.NoError(t, c.SaveStats(context.Background(), "u-1", in))

	db.getOut = &dynamodb.GetItemOutput{Item: db.lastPutInput.Item}
	out, err := c.LoadStats(context.Background(), "u-1")
	require.NoError(t, err)

	require.Equal(t, in.Version+1, out.Version)
	require.True(t, in.LastCallDate.Equal(out.LastCallDate))
	out.Version, out.LastCallDate = in.Version, in.LastCallDate
	require.Equal(t, in, out)
}

func TestLoadStats_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, err := c.LoadStats(context.Background(), "u-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "LoadStats")

	item := statsItem("u-1", sampleStats(), 1)
	item["totalCalls"] = &types.AttributeValueMemberS{Value: "bad"}
	c = mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	_, err = c.LoadStats(context.Background(), "u-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "totalCalls")
}

func TestSaveStats_ConditionOnVersion(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.SaveStats(context.Background(), "u-1", domain.UserStats{}))
	require.Equal(t, "attribute_not_exists(PK)", *db.lastPutInput.ConditionExpression)
	require.Equal(t, "1", db.lastPutInput.Item["version"].(*types.AttributeValueMemberN).Value)

	require.NoError(t, c.SaveStats(context.Background(), "u-1", domain.UserStats{Version: 3}))
	require.Equal(t, "#v = :expected", *db.lastPutInput.ConditionExpression)
	require.Equal(t, "version", db.lastPutInput.ExpressionAttributeNames["#v"])
	require.Equal(t, "3", db.lastPutInput.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "4", db.lastPutInput.Item["version"].(*types.AttributeValueMemberN).Value)
}

func TestSaveStats_ConditionFailureIsVersionConflict(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("conditional request failed")}}
	c := mustNewClient(t, db)
	err := c.SaveStats(context.Background(), "u-1", domain.UserStats{Version: 2})
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	db.putErr = errors.New("throttled")
	err = c.SaveStats(context.Background(), "u-1", domain.UserStats{Version: 2})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrVersionConflict)

	err = c.SaveStats(context.Background(), " ", domain.UserStats{})
	require.Error(t, err)
}
