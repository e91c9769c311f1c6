package tracking

const (
	NewUser      = "new_user"
	SignIn       = "sign_in"
	PostCreated  = "post_created"
	PostDeleted  = "post_deleted"
	StoryCreated = "story_created"
	PostLiked    = "post_liked"
	UserFollowed = "user_followed"
)

// Event represents an event for tracking
type Event struct {
	ID         string
	Name       string
	Properties map[string]interface{}
}
