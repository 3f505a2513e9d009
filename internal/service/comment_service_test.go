package service

import (
	"context"
	"testing"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"github.com/nsxzhou1114/bloodlink-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCommentCreateSanitizesAndNotifiesOwner(t *testing.T) {
	f := newDeliveryFixture(t, DeliveryOptions{}, nil, nil)
	svc := NewCommentService(f.db, zaptest.NewLogger(t).Sugar(), f.delivery, time.Second)
	owner := testutil.CreateUser(t, f.db, "owner")
	actor := testutil.CreateUser(t, f.db, "alice")

	post, err := svc.CreatePost(context.Background(), owner.ID, &dto.PostCreateRequest{Title: "Need O+", Content: "at Ruby Hall"})
	require.NoError(t, err)

	comment, err := svc.Create(context.Background(), actor.ID, &dto.CommentCreateRequest{
		PostID:  post.ID,
		Content: `I can help <script>alert(1)</script>`,
	})
	require.NoError(t, err)
	assert.Equal(t, "I can help", comment.Content)

	var reloaded model.Post
	require.NoError(t, f.db.First(&reloaded, post.ID).Error)
	assert.Equal(t, 1, reloaded.CommentCount)

	require.Len(t, f.pusher.pushes[owner.ID], 1)
}

func TestCommentReplyNotifiesParentAuthor(t *testing.T) {
	f := newDeliveryFixture(t, DeliveryOptions{}, nil, nil)
	svc := NewCommentService(f.db, zaptest.NewLogger(t).Sugar(), f.delivery, time.Second)
	owner := testutil.CreateUser(t, f.db, "owner")
	bob := testutil.CreateUser(t, f.db, "bob")
	alice := testutil.CreateUser(t, f.db, "alice")

	post, err := svc.CreatePost(context.Background(), owner.ID, &dto.PostCreateRequest{Title: "t", Content: "c"})
	require.NoError(t, err)
	parent, err := svc.Create(context.Background(), bob.ID, &dto.CommentCreateRequest{PostID: post.ID, Content: "first"})
	require.NoError(t, err)

	reply, err := svc.Reply(context.Background(), alice.ID, &dto.CommentReplyRequest{CommentID: parent.ID, Content: "thanks"})
	require.NoError(t, err)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, parent.ID, *reply.ParentID)

	require.Len(t, f.pusher.pushes[bob.ID], 1)
	// owner 只收到 bob 的顶层评论通知
	assert.Len(t, f.pusher.pushes[owner.ID], 1)
}

func TestCommentCreateValidation(t *testing.T) {
	f := newDeliveryFixture(t, DeliveryOptions{}, nil, nil)
	svc := NewCommentService(f.db, zaptest.NewLogger(t).Sugar(), f.delivery, time.Second)
	owner := testutil.CreateUser(t, f.db, "owner")

	_, err := svc.Create(context.Background(), owner.ID, &dto.CommentCreateRequest{PostID: 404, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	p1, err := svc.CreatePost(context.Background(), owner.ID, &dto.PostCreateRequest{Title: "a", Content: "a"})
	require.NoError(t, err)
	p2, err := svc.CreatePost(context.Background(), owner.ID, &dto.PostCreateRequest{Title: "b", Content: "b"})
	require.NoError(t, err)
	c1, err := svc.Create(context.Background(), owner.ID, &dto.CommentCreateRequest{PostID: p1.ID, Content: "x"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), owner.ID, &dto.CommentCreateRequest{PostID: p2.ID, ParentID: &c1.ID, Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Create(context.Background(), owner.ID, &dto.CommentCreateRequest{PostID: p1.ID, Content: "<script></script>"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Reply(context.Background(), owner.ID, &dto.CommentReplyRequest{CommentID: 404, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCronCleanupReadNotifications(t *testing.T) {
	clock := newFakeClock(time.Now().Add(-60 * 24 * time.Hour))
	store := newTestNotificationService(t, clock)
	n, err := store.Write(context.Background(), commentInput(1, "alice"))
	require.NoError(t, err)
	require.NoError(t, store.MarkRead(context.Background(), n.ID, 1))

	cronSvc := NewCronService(store, zaptest.NewLogger(t).Sugar(), 30)
	cronSvc.CleanupReadNotifications()

	list, err := store.ListAfter(context.Background(), 1, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, cronSvc.Start("0 0 3 * * *"))
	cronSvc.Stop()
	assert.Error(t, NewCronService(store, zaptest.NewLogger(t).Sugar(), 0).Start("not a spec"))
}
