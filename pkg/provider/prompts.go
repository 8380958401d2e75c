package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Prompts shared by every chat-based 
const CaptionInstruction = `Write a concise, vivid description of the given image.
- One sentence covering the main subject, the setting, the activity or situation, and the mood.
- At most 20 words.
- Use lively language so the reader can picture the image.`

const NovelSystemPrompt = "You are an outstanding novelist. Write an engaging, moving story from the information you are given."

const StorySystemPrompt = "You are a warm storyteller who writes short, uplifting stories about people's dream jobs."

const ActionsSystemPrompt = `Given a job title, list 10 concrete things a person in that job does, as JSON.

Output exactly this structure:
{
  "job_title": "<the job title you were given>",
  "actions": ["action 1", "action 2", ...]
}

Rules for actions:
- Reflect real day-to-day work of the job.
- Friendly, upbeat tone.
- Present progressive tense.
- Exactly 10 actions.`

// NovelPrompt builds the user prompt for the novel written from captions.
func NovelPrompt(captions []string, meta NovelMeta) string {
	gender := meta.Gender
	if gender == "" {
		gender = "unspecified"
	}
	return fmt.Sprintf(`Write a story from the user's details and the photo captions below.
The story will be shown with the photos inserted between its scenes.

Details:
Name: %s
Gender: %s
Genre: %s

Photo captions:
%s

Requirements:
1. Reflect the user's name and the chosen genre.
2. Weave the content of every caption naturally into the story.
3. End the scene belonging to each caption with an [image] tag marking where its photo goes.
4. Keep the story logical and engaging.
5. Connect the scenes smoothly.
6. Do not write a title.`, meta.CharacterName, gender, meta.Genre, CaptionCorpus(captions))
}

// StoryPrompt builds the user prompt for the story around illustrations.
func StoryPrompt(scenes []Illustration, meta DreamMeta) string {
	genre := meta.Genre
	if genre == "" {
		genre = "adventure"
	}
	return fmt.Sprintf(`%s dreams of working as a %s. Write a %s story in which they live one day of that job.
The day is told through the scenes below, in order.

Scenes:
%s

Requirements:
1. Follow the scenes in order, one paragraph each.
2. End each scene's paragraph with an [image] tag marking where its picture goes.
3. Keep it hopeful and under 600 words.
4. Do not write a title.`, meta.UserName, meta.JobTitle, genre, SceneCorpus(scenes))
}

// ParseJobActions decodes and validates the JSON action list a chat model
// returned. Code fences around the JSON are tolerated.
func ParseJobActions(content string) (JobActions, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var actions JobActions
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &actions); err != nil {
		return JobActions{}, &Error{Operation: OpActions, Class: ErrorClassResponse, Message: "actions are not valid JSON", Err: err}
	}

	kept := actions.Actions[:0]
	for _, a := range actions.Actions {
		if a = strings.TrimSpace(a); a != "" {
			kept = append(kept, a)
		}
	}
	actions.Actions = kept

	if strings.TrimSpace(actions.JobTitle) == "" || len(actions.Actions) == 0 {
		return JobActions{}, &Error{Operation: OpActions, Class: ErrorClassResponse, Message: "response lacks job_title or actions"}
	}
	return actions, nil
}
