package service

// User-facing texts. Replies escape them before sending.
const (
	msgWelcome = "Hi! Send me a markdown (.md) write-up and I will turn it into a post.\n" +
		"After approving a post you can build a series of follow-ups on it.\n" +
		"Type /help to see everything I can do."
	msgHelp = "Commands:\n" +
		"/start - introduction\n" +
		"/series - show the posts of the current series as a tree\n" +
		"/stats - statistics for the series and your account\n" +
		"/history - your earlier series\n" +
		"/reset - abandon the current step\n\n" +
		"Upload a .md file at any time to start a new series."

	msgAskContext        = "Got %s. Add any context for the post (audience, goal, angle) or skip."
	msgDraft             = "Draft (tone: %s):\n\n%s"
	msgAskStoryEdits     = "What should change? Describe the edits in one message."
	msgNothingToEdit     = "There is no post to edit yet. Upload a write-up first."
	msgNothingToApprove  = "There is no draft to approve."
	msgNothingToRedo     = "There is nothing to regenerate yet. Upload a write-up first."
	msgApproved          = "Post %d approved. What next?"
	msgNeedPost          = "Approve a post first, follow-ups need something to build on."
	msgAskRelationship   = "How should the new post relate to the series?"
	msgAskParent         = "Relationship: %s. Which post does it follow?\n\n%s"
	msgAskFollowupCtx    = "Following Post %d. Add context for the follow-up or skip."
	msgPreview           = "Ready to generate:\nFollows: %s\nRelationship: %s (%s link)\nContext: %s"
	msgNoContext         = "none"
	msgCancelled         = "Cancelled. Send a write-up or pick up where you left off."
	msgSeries            = "Your series:\n\n%s"
	msgNoPosts           = "No approved posts in this series yet."
	msgRated             = "Thanks for the feedback!"
	msgTimeout           = "That took a while, so I reset the conversation. Please start the step again."
	msgEmptyInput        = "Please type a message."
	msgInputTooLong      = "That message is too long, keep it under %d characters."
	msgInvalidChoice     = "That choice is not valid anymore, please pick again."
	msgStaleButton       = "That option is no longer available."
	msgFailure           = "Something went wrong while processing that. Nothing was changed, please try again."
	msgFreeChat          = "Noted. Use the buttons below the latest post, or /help to see commands."
	msgFreeChatNoSource  = "Send me a markdown (.md) write-up to get started."
	msgUnknownCommand    = "Unknown command. Type /help for the list."
	msgReset             = "Done, the current step was reset."
	msgNoHistory         = "You have no saved series yet."
	msgHistoryHeader     = "Your series:"
	msgStatsSeries       = "This series: %d posts"
	msgStatsTone         = "Most common tone: %s"
	msgStatsRelations    = "Relationships used: %s"
	msgStatsAccount      = "All series: %d series, %d posts, %d interactions"
	msgStatsSatisfaction = "Average rating: %.0f%%"
)

// Button labels
const (
	labelSkip       = "Skip"
	labelCancel     = "Cancel"
	labelApprove    = "Approve"
	labelRegenerate = "Regenerate"
	labelEdit       = "Edit story"
	labelNewPost    = "New follow-up"
	labelShowSeries = "Show series"
	labelConfirm    = "Generate"
	labelRecent     = "Most recent"
	labelGood       = "👍"
	labelBad        = "👎"
)
