package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/dispatch"
	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
)

func setupFriendRouter(handler *FriendHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/friends/:username", handler.ListFriends)
	r.DELETE("/friends/:username", handler.RemoveFriend)
	r.GET("/requests/:username", handler.ListRequests)
	r.POST("/send_request", handler.SendRequest)
	r.POST("/accept", handler.Accept)
	r.POST("/reject", handler.Reject)
	return r
}

func TestSendRequestOutcomes(t *testing.T) {
	cases := []struct {
		outcome models.RequestOutcome
		want    int
	}{
		{outcome: models.RequestCreated, want: http.StatusOK},
		{outcome: models.RequestMutual, want: http.StatusOK},
		{outcome: models.RequestAlreadyFriends, want: http.StatusConflict},
		{outcome: models.RequestAlreadyRequested, want: http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(string(tc.outcome), func(t *testing.T) {
			rel := new(mocks.RelationshipsMock)
			router := setupFriendRouter(NewFriendHandler(rel, nil))

			rel.On("SendRequest", mock.Anything, "alice", "bob").Return(tc.outcome, nil).Once()

			rec := serve(router, http.MethodPost, "/send_request", `{"from":"alice","to":"bob"}`)

			require.Equal(t, tc.want, rec.Code)
			var resp map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, string(tc.outcome), resp["outcome"])
			rel.AssertExpectations(t)
		})
	}
}

func TestSendRequestToSelfIsRejected(t *testing.T) {
	rel := new(mocks.RelationshipsMock)
	router := setupFriendRouter(NewFriendHandler(rel, nil))

	rel.On("SendRequest", mock.Anything, "alice", "alice").
		Return(models.RequestOutcome(""), dispatch.ErrValidation).Once()

	rec := serve(router, http.MethodPost, "/send_request", `{"from":"alice","to":"alice"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcceptReportsFriend(t *testing.T) {
	rel := new(mocks.RelationshipsMock)
	router := setupFriendRouter(NewFriendHandler(rel, nil))

	rel.On("AcceptRequest", mock.Anything, "bob", "alice").Return(true, nil).Once()

	rec := serve(router, http.MethodPost, "/accept", `{"user":"bob","sender":"alice"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true,"friend":"alice"}`, rec.Body.String())
}

func TestRejectRequiresBothUsers(t *testing.T) {
	router := setupFriendRouter(NewFriendHandler(new(mocks.RelationshipsMock), nil))

	rec := serve(router, http.MethodPost, "/reject", `{"user":"bob"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveFriendUsesPathAsActor(t *testing.T) {
	rel := new(mocks.RelationshipsMock)
	router := setupFriendRouter(NewFriendHandler(rel, nil))

	rel.On("RemoveFriend", mock.Anything, "alice", "bob").Return(nil).Once()

	rec := serve(router, http.MethodDelete, "/friends/alice", `{"user":"bob"}`)

	require.Equal(t, http.StatusNoContent, rec.Code)
	rel.AssertExpectations(t)
}

func TestListFriendsAndRequests(t *testing.T) {
	rel := new(mocks.RelationshipsMock)
	router := setupFriendRouter(NewFriendHandler(rel, nil))

	rel.On("Friends", mock.Anything, "alice").Return([]models.FriendSummary{
		{PublicUser: models.PublicUser{Username: "bob"}, Room: "alice_bob", UnreadCount: 2},
	}, nil).Once()
	rel.On("IncomingRequests", mock.Anything, "alice").Return([]models.PublicUser{{Username: "carol"}}, nil).Once()

	rec := serve(router, http.MethodGet, "/friends/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var friends []models.FriendSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &friends))
	require.Len(t, friends, 1)
	require.Equal(t, 2, friends[0].UnreadCount)

	rec = serve(router, http.MethodGet, "/requests/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "carol")
	rel.AssertExpectations(t)
}
