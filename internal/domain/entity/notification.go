package entity

import "time"

const NotificationTypeMessage = "MESSAGE"

type NotificationPayload struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Link  string `json:"link"`
}

type Notification struct {
	ID        string    `json:"id" firestore:"id"`
	UserID    string    `json:"user_id" firestore:"userId"`
	Type      string    `json:"type" firestore:"type"`
	Title     string    `json:"title" firestore:"title"`
	Body      string    `json:"body" firestore:"body"`
	Link      string    `json:"link" firestore:"link"`
	IsRead    bool      `json:"is_read" firestore:"isRead"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}
