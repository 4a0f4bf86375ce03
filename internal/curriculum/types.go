package curriculum

// Document is the YAML layout of a catalog file.
type Document struct {
	Strands []Strand `yaml:"strands"`
}

// Strand is the top level of the topic tree (e.g. statistics).
type Strand struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Chapters []Chapter `yaml:"chapters"`
}

// Chapter groups subtopics within a strand.
type Chapter struct {
	ID        string     `yaml:"id"`
	Name      string     `yaml:"name"`
	Subtopics []Subtopic `yaml:"subtopics"`
}

// Subtopic is the leaf a question is tagged with.
type Subtopic struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// TopicOption pairs a topic path with a human readable label.
type TopicOption struct {
	Path  string `json:"path"`
	Label string `json:"label"`
}
